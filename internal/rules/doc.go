// Package rules loads and compiles the Pattern Rule Set.
//
// A rule set is configuration data: an ordered list of rules, each naming
// which access records it applies to (filter), the output column it fills
// (field) and, per source field, an ordered list of regular expressions
// whose first capture group is the account identifier.
//
// Rule sets can be written in CUE, YAML, JSON or JSONC; every format
// decodes into the same raw document and goes through one compile step
// that validates the whole set before anything runs. A malformed rule set
// is rejected at load time with a CompileError naming the offending path,
// never at first use.
//
// Evaluation order is part of the contract:
//   - rules run in declaration order
//   - within a rule, source fields run in ascending name order
//   - within a source field, patterns run in list order
//
// and the first pattern whose first capture group is non-empty wins.
package rules
