// Package models defines the domain models of outreach flows, their executions and prospect imports.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NodeKind tags the variant of a flow node.
type NodeKind string

const (
	NodeKindStage     NodeKind = "stage"
	NodeKindCondition NodeKind = "condition"
	NodeKindEnd       NodeKind = "end"
)

// Channel is the transport a stage node sends through.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS:
		return true
	}

	return false
}

// Edge labels used by condition nodes.
const (
	LabelTrue  = "true"
	LabelFalse = "false"
)

// Node is implemented by StageNode, ConditionNode and EndNode.
type Node interface {
	NodeID() string
	Kind() NodeKind
}

// StageNode sends content to the recipients of its stage.
type StageNode struct {
	ID          string   `json:"id"                     validate:"required"`
	Name        string   `json:"name,omitempty"`
	Channel     Channel  `json:"channel"                validate:"required,oneof=email sms"`
	TemplateRef string   `json:"template_ref,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	Content     string   `json:"content,omitempty"`
	IsHTML      bool     `json:"is_html,omitempty"`
	Wait        Duration `json:"wait,omitempty"`
}

func (n StageNode) NodeID() string { return n.ID }
func (n StageNode) Kind() NodeKind { return NodeKindStage }

// ConditionNode routes recipients by comparing an engagement metric of a previous send.
type ConditionNode struct {
	ID                string   `json:"id"                       validate:"required"`
	Name              string   `json:"name,omitempty"`
	Metric            string   `json:"metric"                   validate:"required"`
	Operator          Operator `json:"operator"                 validate:"required"`
	Threshold         float64  `json:"threshold"`
	VerificationDelay Duration `json:"verification_delay,omitempty"`
	// SourceNodeID names the stage node whose message the condition inspects.
	SourceNodeID string `json:"source_node_id,omitempty"`
}

func (n ConditionNode) NodeID() string { return n.ID }
func (n ConditionNode) Kind() NodeKind { return NodeKindCondition }

// EndNode terminates the branch that reaches it.
type EndNode struct {
	ID   string `json:"id"             validate:"required"`
	Name string `json:"name,omitempty"`
}

func (n EndNode) NodeID() string { return n.ID }
func (n EndNode) Kind() NodeKind { return NodeKindEnd }

// Edge connects two nodes. Label is empty for stage nodes and true/false for condition nodes.
type Edge struct {
	Source string `json:"source"          validate:"required"`
	Target string `json:"target"          validate:"required"`
	Label  string `json:"label,omitempty"`
}

// FlowDefinition is the canonical, already validated form of a flow graph.
type FlowDefinition struct {
	ID          string          `json:"id"            validate:"required"`
	Name        string          `json:"name"`
	StartNodeID string          `json:"start_node_id" validate:"required"`
	Stages      []StageNode     `json:"stages"`
	Conditions  []ConditionNode `json:"conditions"`
	Ends        []EndNode       `json:"ends"`
	Edges       []Edge          `json:"edges"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Duration is a time.Duration that travels as a Go duration string ("10m").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	parsed, err := ParseDuration(raw)
	if err != nil {
		return err
	}

	*d = parsed

	return nil
}

// ParseDuration accepts a duration string or a number of seconds.
func ParseDuration(raw any) (Duration, error) {
	switch value := raw.(type) {
	case nil:
		return 0, nil
	case string:
		if strings.TrimSpace(value) == "" {
			return 0, nil
		}

		parsed, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", value, err)
		}

		return Duration(parsed), nil
	case float64:
		return Duration(time.Duration(value * float64(time.Second))), nil
	case int:
		return Duration(time.Duration(value) * time.Second), nil
	case int64:
		return Duration(time.Duration(value) * time.Second), nil
	case Duration:
		return value, nil
	case time.Duration:
		return Duration(value), nil
	default:
		return 0, fmt.Errorf("invalid duration value of type %T", raw)
	}
}
