//go:build ignore

// Package main generates a synthetic email corpus for chunking/BM25/vector
// benchmarking. Usage: go run scripts/generate-test-corpus.go -messages 1000 -output testdata/bench
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numMessages = flag.Int("messages", 1000, "Number of synthetic messages to generate")
	outputDir   = flag.String("output", "testdata/bench", "Output directory")
	seed        = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var bodyTemplate = `Subject: %s

Hi team,

%s

%s

%s

Best regards,
%s
`

var topics = []string{
	"quarterly roadmap", "incident postmortem", "vendor contract renewal",
	"customer escalation", "infrastructure migration", "hiring plan",
	"budget review", "product launch", "security audit", "on-call rotation",
	"performance regression", "data retention policy", "client onboarding",
	"release notes", "compliance checklist",
}

var openers = []string{
	"following up on our discussion yesterday regarding the",
	"I wanted to share an update on the",
	"per your request, here's a summary of the",
	"attaching the latest numbers for the",
	"flagging a blocker we ran into with the",
}

var bodies = []string{
	"The rollout is proceeding on schedule, though we're watching latency closely across the affected region.",
	"We identified three root causes and have already shipped mitigations for two of them.",
	"Finance signed off on the revised numbers; we're waiting on legal before sending the final draft.",
	"The new index cut average query time roughly in half during the canary window.",
	"A handful of edge cases slipped through review and will need a follow-up patch next sprint.",
	"Customer feedback has been positive so far, with only minor complaints about onboarding friction.",
}

var closers = []string{
	"Let me know if you'd like to go over this on a call.",
	"Happy to dig deeper into any of these numbers.",
	"Please flag anything that looks off before Friday.",
	"I'll circulate the final document once everyone's had a chance to review.",
}

var names = []string{"Alex", "Priya", "Jordan", "Sam", "Morgan", "Taylor", "Chris", "Dana"}

func randomWord(pool []string) string {
	return pool[rand.Intn(len(pool))]
}

func main() {
	flag.Parse()
	rand.Seed(*seed)

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output directory: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generating %d messages in %s...\n", *numMessages, *outputDir)

	for i := 0; i < *numMessages; i++ {
		if err := generateMessage(i); err != nil {
			fmt.Fprintf(os.Stderr, "error generating message %d: %v\n", i, err)
		}
	}

	fmt.Printf("Generated %d messages successfully.\n", *numMessages)
}

func generateMessage(index int) error {
	topic := randomWord(topics)
	opener := randomWord(openers)
	sender := randomWord(names)

	var paras []string
	for i := 0; i < 2+rand.Intn(3); i++ {
		paras = append(paras, randomWord(bodies))
	}

	content := fmt.Sprintf(bodyTemplate,
		strings.Title(topic),
		strings.Join([]string{opener, topic + "."}, " "),
		strings.Join(paras, "\n\n"),
		randomWord(closers),
		sender,
	)

	filename := filepath.Join(*outputDir, fmt.Sprintf("message_%04d.txt", index))
	return os.WriteFile(filename, []byte(content), 0o644)
}
