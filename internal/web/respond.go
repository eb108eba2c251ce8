package web

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/stino180/invest-simply/internal/domain"
	"go.uber.org/zap"
)

var errUnauthenticated = errors.New("missing identity headers")

type errorBody struct {
	Error          string      `json:"error"`
	Kind           domain.Kind `json:"kind"`
	OutcomeUnknown bool        `json:"outcome_unknown,omitempty"`
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindAgentNotAuthorized:
		return http.StatusConflict
	case domain.KindAssetNotFound, domain.KindInsufficientOrderSize, domain.KindNoLiquidity, domain.KindInvalidRequest:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindExchangeRejected, domain.KindTransientNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	if errors.Is(err, errUnauthenticated) {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error(), Kind: "unauthenticated"})
		return
	}

	kind := domain.KindOf(err)
	status := statusFor(kind)
	body := errorBody{Error: domain.MessageOf(err), Kind: kind, OutcomeUnknown: domain.IsOutcomeUnknown(err)}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.WrapError(domain.KindInvalidRequest, err, "invalid request body")
	}
	return nil
}
