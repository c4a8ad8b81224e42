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

// Package analysispb decodes the subset of Bazel's analysis_v2 protobuf
// schema (src/main/protobuf/analysis_v2.proto upstream) that an aquery
// consumer needs: the action graph container, its artifacts, depsets, path
// fragments and rule classes, plus the streamed query proto used by cquery.
//
// This isn't protoc-generated code: analysis_v2 has no publicly importable
// Go module (Soong vendors its own copy from a prebuilt tree that ships
// alongside the rest of AOSP), so tools that need to read it either shell
// out to --output=jsonproto and unmarshal JSON, or hand-roll a reader over
// the wire format. This package does the latter, directly on top of
// google.golang.org/protobuf/encoding/protowire, because the spec calls for
// `--output proto` (the binary encoding) rather than jsonproto.
package analysispb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers for analysis_v2.ActionGraphContainer and its nested
// messages, matching the public analysis_v2.proto schema.
const (
	fieldContainerArtifacts     = 1
	fieldContainerActions       = 2
	fieldContainerTargets       = 3
	fieldContainerDepSets       = 4
	fieldContainerConfiguration = 5
	fieldContainerAspects       = 6
	fieldContainerRuleClasses   = 7
	fieldContainerPathFragments = 8

	fieldArtifactId             = 1
	fieldArtifactPathFragmentId = 2
	fieldArtifactIsTreeArtifact = 3

	fieldPathFragmentId       = 1
	fieldPathFragmentLabel    = 2
	fieldPathFragmentParentId = 3

	fieldActionTargetId        = 1
	fieldActionActionKey       = 2
	fieldActionMnemonic        = 3
	fieldActionConfigurationId = 4
	fieldActionArguments       = 5
	fieldActionInputDepSetIds  = 8
	fieldActionOutputIds       = 11
	fieldActionEnvVars         = 12
	fieldActionDiscoversInputs = 18

	fieldTargetId      = 1
	fieldTargetLabel   = 2
	fieldTargetRuleId  = 3

	fieldRuleClassId   = 1
	fieldRuleClassName = 2

	fieldDepSetId                = 1
	fieldDepSetDirectArtifactIds = 2
	fieldDepSetTransitiveIds     = 3

	fieldConfigurationId       = 1
	fieldConfigurationMnemonic = 2
	fieldConfigurationChecksum = 4

	fieldKVKey   = 1
	fieldKVValue = 2
)

// KeyValuePair mirrors analysis_v2.KeyValuePair.
type KeyValuePair struct {
	Key   string
	Value string
}

// Artifact mirrors analysis_v2.Artifact.
type Artifact struct {
	Id             uint32
	PathFragmentId uint32
	IsTreeArtifact bool
}

// PathFragment mirrors analysis_v2.PathFragment: a single path segment plus
// a parent id, chained to form a full path. An id of 0 is the root.
type PathFragment struct {
	Id       uint32
	Label    string
	ParentId uint32
}

// Action mirrors analysis_v2.Action, trimmed to the fields the compiler
// argument extractor and target store need.
type Action struct {
	TargetId        uint32
	Mnemonic        string
	ConfigurationId uint32
	Arguments       []string
	InputDepSetIds  []uint32
	OutputIds       []uint32
	EnvironmentVars []*KeyValuePair
}

// Target mirrors analysis_v2.Target.
type Target struct {
	Id         uint32
	Label      string
	RuleClass  uint32
}

// RuleClass mirrors analysis_v2.RuleClass.
type RuleClass struct {
	Id   uint32
	Name string
}

// DepSetOfFiles mirrors analysis_v2.DepSetOfFiles.
type DepSetOfFiles struct {
	Id                  uint32
	DirectArtifactIds   []uint32
	TransitiveDepSetIds []uint32
}

// Configuration mirrors analysis_v2.Configuration.
type Configuration struct {
	Id       uint32
	Mnemonic string
	Checksum string
}

// ActionGraphContainer mirrors analysis_v2.ActionGraphContainer, the
// top-level message produced by `bazel aquery ... --output proto`.
type ActionGraphContainer struct {
	Artifacts     []*Artifact
	Actions       []*Action
	Targets       []*Target
	DepSetOfFiles []*DepSetOfFiles
	Configuration []*Configuration
	RuleClasses   []*RuleClass
	PathFragments []*PathFragment
}

// DecodeActionGraphContainer decodes the binary-protobuf output of
// `bazel aquery --output proto`.
func DecodeActionGraphContainer(data []byte) (*ActionGraphContainer, error) {
	c := &ActionGraphContainer{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("analysispb: malformed container tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldContainerArtifacts:
			v, rest, err := consumeMessage(data, typ)
			if err != nil {
				return nil, err
			}
			a, err := decodeArtifact(v)
			if err != nil {
				return nil, err
			}
			c.Artifacts = append(c.Artifacts, a)
			data = rest
		case fieldContainerActions:
			v, rest, err := consumeMessage(data, typ)
			if err != nil {
				return nil, err
			}
			a, err := decodeAction(v)
			if err != nil {
				return nil, err
			}
			c.Actions = append(c.Actions, a)
			data = rest
		case fieldContainerTargets:
			v, rest, err := consumeMessage(data, typ)
			if err != nil {
				return nil, err
			}
			t, err := decodeTarget(v)
			if err != nil {
				return nil, err
			}
			c.Targets = append(c.Targets, t)
			data = rest
		case fieldContainerDepSets:
			v, rest, err := consumeMessage(data, typ)
			if err != nil {
				return nil, err
			}
			d, err := decodeDepSet(v)
			if err != nil {
				return nil, err
			}
			c.DepSetOfFiles = append(c.DepSetOfFiles, d)
			data = rest
		case fieldContainerConfiguration:
			v, rest, err := consumeMessage(data, typ)
			if err != nil {
				return nil, err
			}
			cfg, err := decodeConfiguration(v)
			if err != nil {
				return nil, err
			}
			c.Configuration = append(c.Configuration, cfg)
			data = rest
		case fieldContainerRuleClasses:
			v, rest, err := consumeMessage(data, typ)
			if err != nil {
				return nil, err
			}
			rc, err := decodeRuleClass(v)
			if err != nil {
				return nil, err
			}
			c.RuleClasses = append(c.RuleClasses, rc)
			data = rest
		case fieldContainerPathFragments:
			v, rest, err := consumeMessage(data, typ)
			if err != nil {
				return nil, err
			}
			pf, err := decodePathFragment(v)
			if err != nil {
				return nil, err
			}
			c.PathFragments = append(c.PathFragments, pf)
			data = rest
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("analysispb: malformed container field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return c, nil
}

// consumeMessage consumes a length-delimited field and returns its raw
// bytes and the remainder of data.
func consumeMessage(data []byte, typ protowire.Type) ([]byte, []byte, error) {
	if typ != protowire.BytesType {
		return nil, nil, fmt.Errorf("analysispb: expected length-delimited field, got wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, nil, fmt.Errorf("analysispb: malformed length-delimited field: %w", protowire.ParseError(n))
	}
	return v, data[n:], nil
}

func decodeArtifact(data []byte) (*Artifact, error) {
	a := &Artifact{}
	return a, forEachField(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldArtifactId:
			v, n := protowire.ConsumeVarint(data)
			a.Id = uint32(v)
			return n, nil
		case fieldArtifactPathFragmentId:
			v, n := protowire.ConsumeVarint(data)
			a.PathFragmentId = uint32(v)
			return n, nil
		case fieldArtifactIsTreeArtifact:
			v, n := protowire.ConsumeVarint(data)
			a.IsTreeArtifact = v != 0
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, data), nil
	})
}

func decodePathFragment(data []byte) (*PathFragment, error) {
	pf := &PathFragment{}
	return pf, forEachField(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldPathFragmentId:
			v, n := protowire.ConsumeVarint(data)
			pf.Id = uint32(v)
			return n, nil
		case fieldPathFragmentLabel:
			v, n := protowire.ConsumeString(data)
			pf.Label = v
			return n, nil
		case fieldPathFragmentParentId:
			v, n := protowire.ConsumeVarint(data)
			pf.ParentId = uint32(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, data), nil
	})
}

func decodeAction(data []byte) (*Action, error) {
	a := &Action{}
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldActionTargetId:
			v, n := protowire.ConsumeVarint(data)
			a.TargetId = uint32(v)
			return n, nil
		case fieldActionMnemonic:
			v, n := protowire.ConsumeString(data)
			a.Mnemonic = v
			return n, nil
		case fieldActionConfigurationId:
			v, n := protowire.ConsumeVarint(data)
			a.ConfigurationId = uint32(v)
			return n, nil
		case fieldActionArguments:
			v, n := protowire.ConsumeString(data)
			a.Arguments = append(a.Arguments, v)
			return n, nil
		case fieldActionInputDepSetIds:
			return consumePackedOrSingleVarint(data, typ, &a.InputDepSetIds)
		case fieldActionOutputIds:
			return consumePackedOrSingleVarint(data, typ, &a.OutputIds)
		case fieldActionEnvVars:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return n, fmt.Errorf("analysispb: malformed env var entry: %w", protowire.ParseError(n))
			}
			kv, err := decodeKeyValuePair(v)
			if err != nil {
				return n, err
			}
			a.EnvironmentVars = append(a.EnvironmentVars, kv)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, data), nil
	})
	return a, err
}

func decodeKeyValuePair(data []byte) (*KeyValuePair, error) {
	kv := &KeyValuePair{}
	return kv, forEachField(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldKVKey:
			v, n := protowire.ConsumeString(data)
			kv.Key = v
			return n, nil
		case fieldKVValue:
			v, n := protowire.ConsumeString(data)
			kv.Value = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, data), nil
	})
}

func decodeTarget(data []byte) (*Target, error) {
	t := &Target{}
	return t, forEachField(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldTargetId:
			v, n := protowire.ConsumeVarint(data)
			t.Id = uint32(v)
			return n, nil
		case fieldTargetLabel:
			v, n := protowire.ConsumeString(data)
			t.Label = v
			return n, nil
		case fieldTargetRuleId:
			v, n := protowire.ConsumeVarint(data)
			t.RuleClass = uint32(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, data), nil
	})
}

func decodeRuleClass(data []byte) (*RuleClass, error) {
	rc := &RuleClass{}
	return rc, forEachField(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldRuleClassId:
			v, n := protowire.ConsumeVarint(data)
			rc.Id = uint32(v)
			return n, nil
		case fieldRuleClassName:
			v, n := protowire.ConsumeString(data)
			rc.Name = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, data), nil
	})
}

func decodeDepSet(data []byte) (*DepSetOfFiles, error) {
	d := &DepSetOfFiles{}
	return d, forEachField(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldDepSetId:
			v, n := protowire.ConsumeVarint(data)
			d.Id = uint32(v)
			return n, nil
		case fieldDepSetDirectArtifactIds:
			return consumePackedOrSingleVarint(data, typ, &d.DirectArtifactIds)
		case fieldDepSetTransitiveIds:
			return consumePackedOrSingleVarint(data, typ, &d.TransitiveDepSetIds)
		}
		return protowire.ConsumeFieldValue(num, typ, data), nil
	})
}

func decodeConfiguration(data []byte) (*Configuration, error) {
	c := &Configuration{}
	return c, forEachField(data, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldConfigurationId:
			v, n := protowire.ConsumeVarint(data)
			c.Id = uint32(v)
			return n, nil
		case fieldConfigurationMnemonic:
			v, n := protowire.ConsumeString(data)
			c.Mnemonic = v
			return n, nil
		case fieldConfigurationChecksum:
			v, n := protowire.ConsumeString(data)
			c.Checksum = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, data), nil
	})
}

// consumePackedOrSingleVarint handles a repeated uint32 field that Bazel may
// encode either packed (a single length-delimited varint run) or unpacked
// (one tag per element), both of which are valid wire encodings for the
// same proto field.
func consumePackedOrSingleVarint(data []byte, typ protowire.Type, out *[]uint32) (int, error) {
	if typ == protowire.BytesType {
		packed, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return n, fmt.Errorf("analysispb: malformed packed varint field: %w", protowire.ParseError(n))
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return n, fmt.Errorf("analysispb: malformed packed varint element: %w", protowire.ParseError(m))
			}
			*out = append(*out, uint32(v))
			packed = packed[m:]
		}
		return n, nil
	}
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return n, fmt.Errorf("analysispb: malformed varint field: %w", protowire.ParseError(n))
	}
	*out = append(*out, uint32(v))
	return n, nil
}

// forEachField walks the top-level fields of a message, dispatching each to
// fn. fn must consume exactly the value portion of the field (not the tag)
// and return the number of bytes it consumed.
func forEachField(data []byte, fn func(num protowire.Number, typ protowire.Type, data []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("analysispb: malformed field tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		consumed, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if consumed < 0 {
			return fmt.Errorf("analysispb: malformed field %d value", num)
		}
		data = data[consumed:]
	}
	return nil
}
