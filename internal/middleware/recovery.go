package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Recovery returns a panic-recovery middleware for the admin and relay
// routers.
func Recovery() gin.HandlerFunc {
	return RecoveryWithWriter(nil)
}

// RecoveryWithWriter returns a panic-recovery middleware that additionally
// invokes writer (if non-nil) before the 500 response is written, letting a
// caller hook in custom reporting without changing the response shape.
func RecoveryWithWriter(writer gin.RecoveryFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()

				log.WithFields(log.Fields{
					"error":      err,
					"stack":      string(stack),
					"path":       c.Request.URL.Path,
					"method":     c.Request.Method,
					"client_ip":  c.ClientIP(),
					"user_agent": c.Request.UserAgent(),
					"timestamp":  time.Now().Format(time.RFC3339),
				}).Error("panic recovered")

				if writer != nil {
					writer(c, err)
				}

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{
						"message": "Internal server error",
						"type":    "internal_error",
						"code":    "panic_recovered",
					},
				})
			}
		}()

		c.Next()
	}
}

// SafeGo launches fn in a goroutine with panic recovery, for fire-and-forget
// work that must not crash the process if it panics.
func SafeGo(fn func()) {
	go func() {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()
				log.WithFields(log.Fields{
					"error": err,
					"stack": string(stack),
				}).Error("goroutine panic recovered")
			}
		}()
		fn()
	}()
}

// SafeGoWithContext is SafeGo with a name attached to the log line, for
// goroutines spawned in a loop (e.g. per-credential balance refreshes) where
// the bare stack trace wouldn't say which credential panicked.
func SafeGoWithContext(name string, fn func()) {
	go func() {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()
				log.WithFields(log.Fields{
					"goroutine": name,
					"error":     err,
					"stack":     string(stack),
					"timestamp": time.Now().Format(time.RFC3339),
				}).Error("named goroutine panic recovered")
			}
		}()
		fn()
	}()
}

// RecoverToError calls recover() itself and converts a recovered panic into
// an error. recover() only stops a panic when called directly by a deferred
// function, so this stops one only when RecoverToError is itself the
// deferred call; invoked from inside another function, or when no panic is
// in progress, it returns nil.
func RecoverToError() error {
	if r := recover(); r != nil {
		stack := debug.Stack()
		log.WithFields(log.Fields{
			"error": r,
			"stack": string(stack),
		}).Error("panic recovered and converted to error")

		return fmt.Errorf("panic recovered: %v", r)
	}
	return nil
}

// SafeCall invokes fn, converting any panic into a returned error instead of
// letting it propagate.
func SafeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			log.WithFields(log.Fields{
				"error": r,
				"stack": string(stack),
			}).Error("panic in SafeCall")

			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return fn()
}

// SafeCallWithValue is SafeCall for functions that also return a value.
func SafeCallWithValue[T any](fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			log.WithFields(log.Fields{
				"error": r,
				"stack": string(stack),
			}).Error("panic in SafeCallWithValue")

			var zero T
			result = zero
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return fn()
}
