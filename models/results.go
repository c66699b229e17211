package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// TriageResult is the classifier's verdict on the opening message.
type TriageResult struct {
	Reasoning string    `json:"reasoning"`
	UserLevel UserLevel `json:"user_level"`
}

func (t TriageResult) Validate() error {
	if !slices.Contains(UserLevels, string(t.UserLevel)) {
		return fmt.Errorf("unknown user level %q", t.UserLevel)
	}
	return nil
}

// Conclusive reports whether the classifier picked a tier.
func (t TriageResult) Conclusive() bool {
	return t.UserLevel == UserLevelBeginner || t.UserLevel == UserLevelAdvanced
}

// Extraction is one extractor pass: everything the transcript discloses,
// plus the required fields that pass left unknown.
type Extraction struct {
	Profile        Profile
	AwaitingFields []Field
}

type CoherenceCheck struct {
	OK               bool              `json:"ok"`
	Reasoning        string            `json:"reasoning"`
	SuggestedChanges *ChangeableFields `json:"suggested_changes"`
}

func (c *CoherenceCheck) Validate() error {
	if strings.TrimSpace(c.Reasoning) == "" {
		return errors.New("coherence check has no reasoning")
	}
	if c.SuggestedChanges != nil {
		if c.SuggestedChanges.IsEmpty() {
			c.SuggestedChanges = nil
			return nil
		}
		return c.SuggestedChanges.Validate()
	}
	return nil
}

// UserChangeResponse is the user's answer to a proposed correction.
type UserChangeResponse struct {
	Accept      bool              `json:"accept"`
	NewProposal *ChangeableFields `json:"new_proposal"`
}

func (r *UserChangeResponse) Validate() error {
	if r.NewProposal != nil {
		if r.NewProposal.IsEmpty() {
			r.NewProposal = nil
			return nil
		}
		return r.NewProposal.Validate()
	}
	return nil
}

type Plan struct {
	Explanation string `json:"explanation"`
	Content     string `json:"content"`
}

func (p Plan) Validate() error {
	if strings.TrimSpace(p.Content) == "" {
		return errors.New("plan has no content")
	}
	if strings.TrimSpace(p.Explanation) == "" {
		return errors.New("plan has no explanation")
	}
	return nil
}
