// Copyright 2025 QWED
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"sort"
	"sync"

	"github.com/qwed-ai/platform/gateway/engine"
)

// Consensus confidence levels. HIGH mode runs two engines, MAXIMUM at
// least three; agreement yields the fixed confidence, disagreement a
// DISPUTED verdict.
const (
	highAgreeConfidence    = 0.95
	maximumAgreeConfidence = 0.90
	highDisputeConfidence  = 0.55
)

// Agreement classifies how the voting engines lined up.
const (
	AgreementUnanimous = "unanimous"
	AgreementMajority  = "majority"
	AgreementSplit     = "split"
	AgreementSingle    = "single"
	AgreementAllFailed = "all_failed"
)

// aggregate runs the given engines in parallel on the same request and
// combines their verdicts per the consensus mode. Engines that return
// an infrastructure error or an ERROR verdict are dropped from the
// vote; they appear in the breakdown so callers can see what happened.
func aggregate(ctx context.Context, mode ConsensusMode, engines []engine.Engine, req *engine.Request) (*engine.Result, []EngineVote) {
	results := make([]*engine.Result, len(engines))
	var wg sync.WaitGroup
	for i, e := range engines {
		wg.Add(1)
		go func(i int, e engine.Engine) {
			defer wg.Done()
			res, err := e.Verify(ctx, req)
			if err != nil {
				res = &engine.Result{
					Engine:      e.Name(),
					Verdict:     engine.VerdictError,
					Explanation: err.Error(),
				}
			}
			if res.Engine == "" {
				res.Engine = e.Name()
			}
			results[i] = res
		}(i, e)
	}
	wg.Wait()

	votes := make([]EngineVote, 0, len(results))
	voting := make([]*engine.Result, 0, len(results))
	for _, res := range results {
		votes = append(votes, EngineVote{
			Engine:     res.Engine,
			Verdict:    res.Verdict,
			Confidence: res.Confidence,
		})
		if res.Verdict != engine.VerdictError {
			voting = append(voting, res)
		}
	}

	if len(voting) == 0 {
		return withAgreement(&engine.Result{
			Verdict:     engine.VerdictError,
			Explanation: "all engines failed",
		}, AgreementAllFailed), votes
	}
	if len(voting) == 1 {
		return withAgreement(voting[0], AgreementSingle), votes
	}

	switch mode {
	case ModeMaximum:
		return majorityVote(voting), votes
	default:
		// HIGH: two voters, unanimous or disputed.
		if voting[0].Verdict == voting[1].Verdict {
			res := withAgreement(voting[0], AgreementUnanimous)
			res.Confidence = highAgreeConfidence
			return res, votes
		}
		res := withAgreement(voting[0], AgreementSplit)
		res.Verdict = engine.VerdictDisputed
		res.Confidence = highDisputeConfidence
		res.Explanation = "engines disagree: " + string(voting[0].Verdict) + " vs " + string(voting[1].Verdict)
		return res, votes
	}
}

// majorityVote resolves MAXIMUM mode: strict majority wins with fixed
// confidence, otherwise the plurality verdict is flagged DISPUTED with
// confidence equal to its share of the vote.
func majorityVote(voting []*engine.Result) *engine.Result {
	counts := make(map[engine.Verdict]int)
	byVerdict := make(map[engine.Verdict]*engine.Result)
	for _, res := range voting {
		counts[res.Verdict]++
		if byVerdict[res.Verdict] == nil {
			byVerdict[res.Verdict] = res
		}
	}

	type tally struct {
		verdict engine.Verdict
		n       int
	}
	tallies := make([]tally, 0, len(counts))
	for v, n := range counts {
		tallies = append(tallies, tally{v, n})
	}
	sort.Slice(tallies, func(i, j int) bool {
		if tallies[i].n != tallies[j].n {
			return tallies[i].n > tallies[j].n
		}
		return tallies[i].verdict < tallies[j].verdict
	})

	top := tallies[0]
	if top.n == len(voting) {
		res := withAgreement(byVerdict[top.verdict], AgreementUnanimous)
		res.Confidence = maximumAgreeConfidence
		return res
	}
	if top.n*2 > len(voting) {
		res := withAgreement(byVerdict[top.verdict], AgreementMajority)
		res.Confidence = maximumAgreeConfidence
		return res
	}

	res := withAgreement(byVerdict[top.verdict], AgreementSplit)
	res.Verdict = engine.VerdictDisputed
	res.Confidence = float64(top.n) / float64(len(voting))
	res.Explanation = "no majority among engines"
	return res
}

// withAgreement copies a result and stamps the agreement status. The
// copy keeps voters' own Details maps untouched.
func withAgreement(src *engine.Result, agreement string) *engine.Result {
	res := *src
	details := make(map[string]any, len(src.Details)+1)
	for k, v := range src.Details {
		details[k] = v
	}
	details["agreement"] = agreement
	res.Details = details
	return &res
}
