package middleware

import (
	"log/slog"
	"net/http"

	"crowdtask-api/internal/upload"

	"github.com/gin-gonic/gin"
)

const ledgerKey = "ledger"

// Uploads gives every request a ledger of the files it creates and removes
// them all unless the response is a success. A panicking handler has not
// written its status yet, so the files are removed before the panic moves on
// to the recovery middleware.
func Uploads(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ledger := upload.NewLedger()
		c.Set(ledgerKey, ledger)
		defer func() {
			if r := recover(); r != nil {
				ledger.Cleanup(log)
				panic(r)
			}
			if status := c.Writer.Status(); status < http.StatusOK || status >= http.StatusMultipleChoices {
				ledger.Cleanup(log)
			}
		}()
		c.Next()
	}
}

// Ledger returns the request ledger. Requests that skipped the Uploads
// middleware get a nil ledger, which is safe to use.
func Ledger(c *gin.Context) *upload.Ledger {
	v, ok := c.Get(ledgerKey)
	if !ok {
		return nil
	}
	l, _ := v.(*upload.Ledger)
	return l
}
