package prompt

// builtinTemplates maps agent pass stage name to instruction template.
var builtinTemplates = map[string]string{
	"agent-discovery":  discoveryTemplate,
	"agent-validation": validationTemplate,
	"agent-synthesis":  synthesisTemplate,
}

const discoveryTemplate = `# Security Discovery Pass

You are auditing a snapshot of a smart-contract source tree.
Revision: {{revision_id}}
Profile: {{profile}}

{{#if verify_summary}}
## Verification Result
{{verify_summary}}
{{/if}}

## Goal
Sweep the full source tree for candidate vulnerabilities. Favor recall over
precision in this pass: report anything that could plausibly be a defect,
including unchecked external messages, missing access checks, unsafe
arithmetic, storage layout hazards, and gas-exhaustion paths.

## Output
Print a JSON array of findings on stdout. Each finding needs a title, a
severity (critical, high, medium, or low), a summary, and
evidence pointing at a file path with a start and end line.
`

const validationTemplate = `# Finding Validation Pass

You are validating candidate findings against a snapshot of a
smart-contract source tree.
Revision: {{revision_id}}
Profile: {{profile}}

{{#if prior_count}}
Candidates under review: {{prior_count}}
{{/if}}

## Goal
Re-read the evidence for every candidate finding supplied on stdin. Discard
false positives, tighten evidence ranges, and correct severities that do not
match the real impact. Do not invent new findings in this pass.

## Output
Print the surviving findings as a JSON array on stdout, same shape as the
input.
`

const synthesisTemplate = `# Report Synthesis Pass

You are producing the final audit finding set for a smart-contract
source tree.
Revision: {{revision_id}}
Profile: {{profile}}

{{#if prior_count}}
Validated findings: {{prior_count}}
{{/if}}

## Goal
Merge duplicate findings, write clear remediation guidance for each, and
give every finding a stable id, a one-line title, and a severity consistent
with the validated evidence. Every finding must carry at least one evidence
entry with a real file path and line range.

## Output
Print the final findings as a JSON array on stdout.
`
