package service

import (
	"errors"
	"fmt"

	"subgate/internal/btzpay"
)

var (
	ErrInvalidPlan        = errors.New("invalid plan")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment gateway rejected the request")
	ErrGatewayProtocol    = errors.New("payment gateway returned a malformed response")
	// ErrAmbiguousCreate means a create request timed out and the gateway may
	// or may not hold the transaction. It also matches ErrGatewayUnavailable.
	ErrAmbiguousCreate   = errors.New("payment request outcome unknown")
	ErrFreeGroupBind     = errors.New("the free group cannot be bound")
	ErrBindRequiresGroup = errors.New("bind must be issued from a group")
	ErrUnsupportedAction = errors.New("unsupported action")
)

// gatewayError converts a gateway client error into the engine taxonomy.
// Transport details are kept in the message only.
func gatewayError(err error) error {
	var gwErr *btzpay.Error
	if !errors.As(err, &gwErr) {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	detail := gwErr.Message
	if detail == "" && gwErr.Err != nil {
		detail = gwErr.Err.Error()
	}

	switch gwErr.Kind {
	case btzpay.ErrRejected:
		return fmt.Errorf("%w: %s", ErrGatewayRejected, detail)
	case btzpay.ErrProtocol:
		return fmt.Errorf("%w: %s", ErrGatewayProtocol, detail)
	default:
		return fmt.Errorf("%w: %s", ErrGatewayUnavailable, detail)
	}
}

// createError is gatewayError with the ambiguous-create rule applied.
func createError(err error) error {
	if btzpay.IsTimeout(err) {
		return fmt.Errorf("%w: %w", ErrAmbiguousCreate, ErrGatewayUnavailable)
	}
	return gatewayError(err)
}
