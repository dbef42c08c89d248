// Package gateway talks to the external SMS provider that delivers one-time
// codes to agents' phones.
package gateway

import (
	"context"

	"fieldsync/pkg/domain"
)

// Gateway dispatches a one-time code to a phone. Implementations must carry a
// bounded timeout; callers treat failures as retryable.
type Gateway interface {
	SendCode(ctx context.Context, phone domain.Phone, code string) error
}
