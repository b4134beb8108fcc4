//go:build !linux

package tunnel

import "errors"

// RuleInspector is unavailable off Linux.
type RuleInspector struct{}

// NewRuleInspector creates a RuleInspector.
func NewRuleInspector() *RuleInspector {
	return &RuleInspector{}
}

// RoutedSources always fails on this platform.
func (r *RuleInspector) RoutedSources(table int) (map[string]bool, error) {
	return nil, errors.New("policy rule inspection is only available on linux")
}
