package govtxd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"nounsgov/actions"
	"nounsgov/txflow"
)

// handler binds one builder to its JSON request body.
type handler struct {
	kind     txflow.TxType
	validate func(ctx context.Context, body []byte) (*txflow.ValidationError, error)
	submit   func(ctx context.Context, tr *txflow.Tracker, body []byte) error
}

func bind[T any](
	kind txflow.TxType,
	validate func(context.Context, T) *txflow.ValidationError,
	submit func(context.Context, *txflow.Tracker, T) error,
) handler {
	decode := func(body []byte) (T, error) {
		var in T
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&in); err != nil {
			return in, fmt.Errorf("decode %s request: %w", kind, err)
		}
		return in, nil
	}
	return handler{
		kind: kind,
		validate: func(ctx context.Context, body []byte) (*txflow.ValidationError, error) {
			in, err := decode(body)
			if err != nil {
				return nil, err
			}
			return validate(ctx, in), nil
		},
		submit: func(ctx context.Context, tr *txflow.Tracker, body []byte) error {
			in, err := decode(body)
			if err != nil {
				return err
			}
			return submit(ctx, tr, in)
		},
	}
}

// registry maps the action path segment to its builder. Action names are the
// history transaction types.
func registry(a *actions.Actions) map[string]handler {
	list := []handler{
		bind(txflow.TxPropose, a.ValidateCreateProposal, a.CreateProposal),
		bind(txflow.TxUpdateProposal, a.ValidateUpdateProposal, a.UpdateProposal),
		bind(txflow.TxUpdateProposalBySigs, a.ValidateUpdateProposalBySigs, a.UpdateProposalBySigs),
		bind(txflow.TxCancelProposal, a.ValidateCancelProposal, a.CancelProposal),
		bind(txflow.TxQueueProposal, a.ValidateQueueProposal, a.QueueProposal),
		bind(txflow.TxExecuteProposal, a.ValidateExecuteProposal, a.ExecuteProposal),
		bind(txflow.TxProposalFeedback, a.ValidateProposalFeedback, a.SendProposalFeedback),
		bind(txflow.TxCastVote, a.ValidateCastVote, a.CastVote),
		bind(txflow.TxCreateCandidate, a.ValidateCreateCandidate, a.CreateCandidate),
		bind(txflow.TxUpdateCandidate, a.ValidateUpdateCandidate, a.UpdateCandidate),
		bind(txflow.TxCancelCandidate, a.ValidateCancelCandidate, a.CancelCandidate),
		bind(txflow.TxCreateTopic, a.ValidateCreateTopic, a.CreateTopic),
		bind(txflow.TxCancelTopic, a.ValidateCancelTopic, a.CancelTopic),
		bind(txflow.TxCandidateFeedback, a.ValidateCandidateFeedback, a.SendCandidateFeedback),
		bind(txflow.TxCancelSignature, a.ValidateCancelSignature, a.CancelSignature),
		bind(txflow.TxSponsorCandidate, a.ValidateSponsorCandidate, a.SponsorCandidate),
		bind(txflow.TxPromoteCandidate, a.ValidatePromoteCandidate, a.PromoteCandidate),
		bind(txflow.TxBuyVRGDA, a.ValidateBuyNoun, a.BuyNounVRGDA),
		bind(txflow.TxApproveToken, a.ValidateApproveToken, a.ApproveToken),
	}
	out := make(map[string]handler, len(list))
	for _, h := range list {
		out[string(h.kind)] = h
	}
	return out
}
