package toolcatalog

import (
	"context"
	"encoding/base64"
	"time"
)

func contextWithDeadline(ctx context.Context, d time.Duration) (context.Context, func()) {
	return context.WithTimeout(ctx, d)
}

func base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
