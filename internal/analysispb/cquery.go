// Copyright 2015 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package analysispb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers for analysis_v2.CqueryResult and the build.proto messages it
// embeds (build.Target / build.Rule / build.Attribute), trimmed to what the
// target store's cquery decoding needs: a label, its rule class, and the
// string/string-list attributes ("srcs", "deps", and friends) that
// determine source ownership and dependency edges.
const (
	fieldCqueryResults = 1

	fieldConfiguredTargetTarget        = 1
	fieldConfiguredTargetConfiguration = 2

	fieldBuildTargetRule = 2

	fieldRuleName      = 1
	fieldBuildRuleClassName = 2
	fieldRuleAttribute = 5

	fieldAttributeName            = 1
	fieldAttributeStringValue     = 3
	fieldAttributeStringListValue = 6
)

// Attribute mirrors the subset of build.Attribute this system reads:
// string-valued attributes (e.g. a rule's "name") and string-list-valued
// ones (e.g. "srcs", "deps").
type Attribute struct {
	Name            string
	StringValue     string
	StringListValue []string
}

// Rule mirrors the subset of build.Rule read from a configured target.
type Rule struct {
	Name       string
	RuleClass  string
	Attributes []*Attribute
}

// Attr returns the named attribute, or nil if the rule does not set it.
func (r *Rule) Attr(name string) *Attribute {
	for _, a := range r.Attributes {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// ConfiguredTarget mirrors analysis_v2.ConfiguredTarget: a build.Target
// (only its Rule is read; for cquery's other target kinds - source files,
// package groups - Rule stays nil and no label is kept) plus the
// configuration it was analyzed under.
type ConfiguredTarget struct {
	Rule                  *Rule
	ConfigurationChecksum string
}

// CqueryResult mirrors analysis_v2.CqueryResult, the top-level message
// produced by `bazel cquery ... --output proto`.
type CqueryResult struct {
	Results []*ConfiguredTarget
}

// DecodeCqueryResult decodes the binary-protobuf output of
// `bazel cquery --output proto`. It walks top-level fields directly (rather
// than through forEachField) because a repeated message field needs its
// length-delimited payload re-sliced off data before recursing, which the
// narrower forEachField callback shape doesn't expose.
func DecodeCqueryResult(data []byte) (*CqueryResult, error) {
	r := &CqueryResult{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("analysispb: malformed cquery result tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if num != fieldCqueryResults {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("analysispb: malformed cquery result field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}
		v, rest, err := consumeMessage(data, typ)
		if err != nil {
			return nil, err
		}
		ct, err := decodeConfiguredTarget(v)
		if err != nil {
			return nil, err
		}
		r.Results = append(r.Results, ct)
		data = rest
	}
	return r, nil
}

func decodeConfiguredTarget(data []byte) (*ConfiguredTarget, error) {
	ct := &ConfiguredTarget{}
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldConfiguredTargetTarget:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return n, fmt.Errorf("analysispb: malformed target field: %w", protowire.ParseError(n))
			}
			rule, err := decodeBuildTarget(v)
			if err != nil {
				return n, err
			}
			ct.Rule = rule
			return n, nil
		case fieldConfiguredTargetConfiguration:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return n, fmt.Errorf("analysispb: malformed configuration field: %w", protowire.ParseError(n))
			}
			cfg, err := decodeConfiguration(v)
			if err != nil {
				return n, err
			}
			ct.ConfigurationChecksum = cfg.Checksum
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, data), nil
	})
	return ct, err
}

func decodeBuildTarget(data []byte) (*Rule, error) {
	var rule *Rule
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		if num != fieldBuildTargetRule {
			return protowire.ConsumeFieldValue(num, typ, data), nil
		}
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return n, fmt.Errorf("analysispb: malformed rule field: %w", protowire.ParseError(n))
		}
		r, err := decodeRule(v)
		if err != nil {
			return n, err
		}
		rule = r
		return n, nil
	})
	return rule, err
}

func decodeRule(data []byte) (*Rule, error) {
	r := &Rule{}
	return r, forEachField(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldRuleName:
			v, n := protowire.ConsumeString(data)
			r.Name = v
			return n, nil
		case fieldBuildRuleClassName:
			v, n := protowire.ConsumeString(data)
			r.RuleClass = v
			return n, nil
		case fieldRuleAttribute:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return n, fmt.Errorf("analysispb: malformed attribute field: %w", protowire.ParseError(n))
			}
			attr, err := decodeAttribute(v)
			if err != nil {
				return n, err
			}
			r.Attributes = append(r.Attributes, attr)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, data), nil
	})
}

func decodeAttribute(data []byte) (*Attribute, error) {
	a := &Attribute{}
	return a, forEachField(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldAttributeName:
			v, n := protowire.ConsumeString(data)
			a.Name = v
			return n, nil
		case fieldAttributeStringValue:
			v, n := protowire.ConsumeString(data)
			a.StringValue = v
			return n, nil
		case fieldAttributeStringListValue:
			v, n := protowire.ConsumeString(data)
			a.StringListValue = append(a.StringListValue, v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, data), nil
	})
}
