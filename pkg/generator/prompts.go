package generator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"career-docgen/pkg/job"
)

// Prompt wording is deliberately thin here: the heavy prompt engineering
// lives with the product team, this package only needs a well-formed request
// per document kind that demands strict JSON output.

var kindInstructions = map[job.Kind]string{
	job.KindCoverLetter: `Write a tailored cover letter for the candidate and job posting below.
Return ONLY a JSON object: {"cover_letter": "<markdown text>"}`,

	job.KindValueReport: `Produce a Value Proposition Report matching the candidate's experience to the job posting below.
Return ONLY a JSON object: {"summary": "...", "strengths": [...], "evidence": [...]}`,

	job.KindGapAnalysis: `Analyze the gap between the candidate's experience and the job posting below.
Return ONLY a JSON object: {"gaps": [...], "mitigations": [...]}`,

	job.KindInterviewPrep: `Prepare interview questions and suggested answers for the candidate and job posting below.
Return ONLY a JSON object: {"questions": [{"question": "...", "suggested_answer": "..."}]}`,
}

// buildPrompt assembles the model prompt for one document kind. The input
// payload was validated at submission; a payload that still cannot be used
// here is a terminal failure.
func buildPrompt(kind job.Kind, input json.RawMessage) (string, error) {
	instruction, ok := kindInstructions[kind]
	if !ok {
		return "", errors.Errorf("no prompt template for kind %q", kind)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(input, &fields); err != nil {
		return "", errors.Wrap(err, "input payload is not a JSON object")
	}
	if len(fields) == 0 {
		return "", errors.New("input payload has no fields")
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(instruction)
	sb.WriteString("\n\nDo not include markdown code fences or any text outside the JSON object.\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "\n## %s\n%s\n", name, fields[name])
	}
	return sb.String(), nil
}
