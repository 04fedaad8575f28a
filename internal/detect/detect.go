// Package detect classifies a source tree snapshot by contract toolchain.
// The result feeds run setup and operator output; it never gates a run on
// its own.
package detect

import (
	"path/filepath"
	"sort"
	"strings"
)

// Result holds the source tree classification.
type Result struct {
	Language      string   `json:"language"` // empty when no contract sources found
	Reasons       []string `json:"reasons"`
	ContractFiles []string `json:"contract_files"`
	HasTests      bool     `json:"has_tests"`
}

// contract languages by file extension
var contractExtensions = map[string]string{
	".tolk": "tolk",
	".fc":   "func",
	".func": "func",
	".fif":  "fift",
	".tact": "tact",
	".sol":  "solidity",
}

// contractDirs matched as path segments via hasDirSegment
var contractDirs = []string{
	"contracts",
	"wrappers",
	"sources",
}

var testDirs = []string{
	"tests",
	"test",
	"spec",
}

// Sources classifies the given tree paths. The dominant contract language
// wins; ties break lexicographically so the result is deterministic.
func Sources(paths []string) *Result {
	result := &Result{
		Reasons:       []string{},
		ContractFiles: []string{},
	}

	votes := map[string]int{}
	for _, p := range paths {
		ext := strings.ToLower(filepath.Ext(p))
		lang, ok := contractExtensions[ext]
		if !ok {
			if hasDirSegment(p, testDirs) {
				result.HasTests = true
			}
			continue
		}
		votes[lang]++
		result.ContractFiles = append(result.ContractFiles, p)
		if hasDirSegment(p, testDirs) {
			result.HasTests = true
		}
	}
	sort.Strings(result.ContractFiles)

	if len(votes) == 0 {
		result.Reasons = append(result.Reasons, "no recognized contract source files")
		return result
	}

	langs := make([]string, 0, len(votes))
	for lang := range votes {
		langs = append(langs, lang)
	}
	sort.Slice(langs, func(i, j int) bool {
		if votes[langs[i]] != votes[langs[j]] {
			return votes[langs[i]] > votes[langs[j]]
		}
		return langs[i] < langs[j]
	})
	result.Language = langs[0]
	result.Reasons = append(result.Reasons,
		strings.Join([]string{"dominant extension vote:", result.Language}, " "))

	for _, p := range result.ContractFiles {
		if hasDirSegment(p, contractDirs) {
			result.Reasons = append(result.Reasons, "contract sources under a conventional contracts directory")
			break
		}
	}
	return result
}

// hasDirSegment reports whether any directory segment of path matches one
// of the given names. Segment matching avoids substring false positives
// like "contractstate".
func hasDirSegment(path string, names []string) bool {
	dir := filepath.ToSlash(filepath.Dir(path))
	if dir == "." {
		return false
	}
	for _, seg := range strings.Split(dir, "/") {
		for _, name := range names {
			if seg == name {
				return true
			}
		}
	}
	return false
}
