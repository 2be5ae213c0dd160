package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/logging"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/store"
	"github.com/dasblueyeddevil/daem0nmcp-go/internal/temporal"
)

// VerificationStatus is a claim's standing against stored knowledge.
type VerificationStatus string

const (
	Verified   VerificationStatus = "verified"
	Unverified VerificationStatus = "unverified"
	Conflict   VerificationStatus = "conflict"
)

// ClaimVerification is one sentence-level claim's verdict.
type ClaimVerification struct {
	Claim          string
	Status         VerificationStatus
	SupportingID   string
	ConflictReason string
}

var sentenceSplit = regexp.MustCompile(`[.!?]+\s+`)

// extractClaims splits free text into candidate factual claims --
// sentence-level granularity, dropping fragments too short to carry a
// checkable claim.
func extractClaims(text string) []string {
	parts := sentenceSplit.Split(strings.TrimSpace(text), -1)
	var claims []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) < 10 {
			continue
		}
		claims = append(claims, p)
	}
	return claims
}

// VerifyFacts extracts claims from text and checks each against stored
// knowledge: a claim is verified when a current, non-failed memory
// substantially matches it, in conflict when the best match is an
// invalidated version (the claim reflects a superseded belief) or a
// memory explicitly marked as not having worked, and unverified
// otherwise.
func (m *Manager) VerifyFacts(ctx context.Context, project, text string, categories []string, asOfTime *time.Time) ([]ClaimVerification, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "VerifyFacts")
	defer timer.Stop()

	claims := extractClaims(text)
	out := make([]ClaimVerification, 0, len(claims))

	for _, claim := range claims {
		out = append(out, m.verifyClaim(ctx, project, claim, categories, asOfTime))
	}
	return out, nil
}

func (m *Manager) verifyClaim(ctx context.Context, project, claim string, categories []string, asOfTime *time.Time) ClaimVerification {
	result, err := m.Recall(ctx, RecallRequest{Project: project, Topic: claim, Categories: categories, Limit: 3})
	if err != nil || result == nil {
		return ClaimVerification{Claim: claim, Status: Unverified}
	}

	var candidates []string
	for _, group := range result.ByCategory {
		for _, mm := range group {
			candidates = append(candidates, mm.ID)
		}
	}
	if len(candidates) == 0 {
		return ClaimVerification{Claim: claim, Status: Unverified}
	}

	topID := candidates[0]
	topMemory, err := m.store.GetMemory(topID)
	if err != nil || topMemory == nil {
		return ClaimVerification{Claim: claim, Status: Unverified}
	}

	if topMemory.Worked == store.WorkedFalse {
		return ClaimVerification{
			Claim:          claim,
			Status:         Conflict,
			SupportingID:   topID,
			ConflictReason: fmt.Sprintf("memory %s records that this did not work: %s", topID, topMemory.Outcome),
		}
	}

	asOf := time.Now().UTC()
	if asOfTime != nil {
		asOf = *asOfTime
	}
	versions, err := temporal.AsOf(m.store, topID, asOf, nil)
	if err == nil && len(versions) == 0 {
		// Nothing was valid at asOfTime even though the memory exists now
		// -- the claim describes a belief that hadn't formed yet, or has
		// since been fully superseded.
		allVersions, verr := m.store.VersionsForMemories([]string{topID}, true)
		if verr == nil {
			for _, v := range allVersions {
				if v.ValidTo != nil && claimOverlaps(claim, v.Content) {
					return ClaimVerification{
						Claim:          claim,
						Status:         Conflict,
						SupportingID:   topID,
						ConflictReason: fmt.Sprintf("superseded by a later version of memory %s", topID),
					}
				}
			}
		}
		return ClaimVerification{Claim: claim, Status: Unverified, SupportingID: topID}
	}

	if claimOverlaps(claim, topMemory.Content) {
		return ClaimVerification{Claim: claim, Status: Verified, SupportingID: topID}
	}
	return ClaimVerification{Claim: claim, Status: Unverified, SupportingID: topID}
}

// claimOverlaps is a coarse token-overlap heuristic: true when a
// majority of the claim's significant words appear in the candidate
// content. Good enough to distinguish "this memory is about the same
// thing" from "the recall engine just returned its nearest neighbor."
func claimOverlaps(claim, content string) bool {
	claimWords := significantWords(claim)
	if len(claimWords) == 0 {
		return false
	}
	contentLower := strings.ToLower(content)
	matched := 0
	for _, w := range claimWords {
		if strings.Contains(contentLower, w) {
			matched++
		}
	}
	return float64(matched)/float64(len(claimWords)) >= 0.5
}

func significantWords(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	var out []string
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()")
		if len(f) > 3 {
			out = append(out, f)
		}
	}
	return out
}
