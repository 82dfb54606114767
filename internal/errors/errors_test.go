package errors

import (
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Structured Errors", func() {
	Describe("AppError", func() {
		Context("basic error creation", func() {
			It("should create error with correct properties", func() {
				err := New(ErrorTypeInvalidInput, "bad rule id")

				Expect(err.Type).To(Equal(ErrorTypeInvalidInput))
				Expect(err.Message).To(Equal("bad rule id"))
				Expect(err.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(err.Details).To(BeEmpty())
				Expect(err.Cause).To(BeNil())
			})

			It("should implement error interface correctly", func() {
				err := New(ErrorTypeInvalidInput, "bad rule id")

				Expect(err.Error()).To(Equal("invalid_input: bad rule id"))
			})

			It("should include details in error string when present", func() {
				err := New(ErrorTypeRuleMisconfigured, "bad regex").WithDetails("field perf.cpu")

				Expect(err.Error()).To(Equal("rule_misconfigured: bad regex (field perf.cpu)"))
			})

			It("should format message arguments", func() {
				err := Newf(ErrorTypeIllegalState, "scan %s is terminal", "scan-1")

				Expect(err.Message).To(Equal("scan scan-1 is terminal"))
			})
		})

		Context("error wrapping", func() {
			It("should wrap underlying error", func() {
				originalErr := errors.New("dial tcp: timeout")
				wrappedErr := Wrap(originalErr, ErrorTypeConnectorTransient, "executing query")

				Expect(wrappedErr.Type).To(Equal(ErrorTypeConnectorTransient))
				Expect(wrappedErr.Message).To(Equal("executing query"))
				Expect(wrappedErr.Cause).To(Equal(originalErr))
				Expect(wrappedErr.Unwrap()).To(Equal(originalErr))
				Expect(errors.Is(wrappedErr, originalErr)).To(BeTrue())
			})

			It("should format wrapped error with arguments", func() {
				originalErr := errors.New("connection refused")
				wrappedErr := Wrapf(originalErr, ErrorTypeConnectorPermanent, "querying system %s", "sys-1")

				Expect(wrappedErr.Message).To(Equal("querying system sys-1"))
				Expect(wrappedErr.Cause).To(Equal(originalErr))
			})
		})

		Context("adding details", func() {
			It("should add details to existing error", func() {
				err := New(ErrorTypeSnapshotCorrupt, "checksum mismatch")
				detailedErr := err.WithDetails("snapshot snap-1")

				Expect(detailedErr.Details).To(Equal("snapshot snap-1"))
				Expect(detailedErr).To(BeIdenticalTo(err)) // Should modify in place
			})

			It("should add formatted details", func() {
				err := New(ErrorTypeBackpressure, "queue full")
				detailedErr := err.WithDetailsf("capacity %d", 16)

				Expect(detailedErr.Details).To(Equal("capacity 16"))
			})
		})
	})

	Describe("HTTP Status Code Mapping", func() {
		It("should map error types to correct HTTP status codes", func() {
			testCases := []struct {
				errorType  ErrorType
				statusCode int
			}{
				{ErrorTypeInvalidInput, http.StatusBadRequest},
				{ErrorTypeBackpressure, http.StatusTooManyRequests},
				{ErrorTypeIllegalState, http.StatusConflict},
				{ErrorTypeConnectorTransient, http.StatusBadGateway},
				{ErrorTypeConnectorPermanent, http.StatusBadGateway},
				{ErrorTypeRuleMisconfigured, http.StatusUnprocessableEntity},
				{ErrorTypePreconditionFalse, http.StatusConflict},
				{ErrorTypePostconditionFalse, http.StatusConflict},
				{ErrorTypeSnapshotCorrupt, http.StatusInternalServerError},
				{ErrorTypeSnapshotMissing, http.StatusNotFound},
				{ErrorTypeResourceExhausted, http.StatusInsufficientStorage},
				{ErrorTypeCancelled, http.StatusRequestTimeout},
				{ErrorTypeInternal, http.StatusInternalServerError},
			}

			for _, tc := range testCases {
				err := New(tc.errorType, "test message")
				Expect(err.StatusCode).To(Equal(tc.statusCode))
			}
		})

		It("should expose the status through GetStatusCode for any error", func() {
			Expect(GetStatusCode(New(ErrorTypeSnapshotMissing, "gone"))).To(Equal(http.StatusNotFound))
			Expect(GetStatusCode(errors.New("plain"))).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("Error Type Checking", func() {
		It("should correctly identify error types", func() {
			err := New(ErrorTypeBackpressure, "queue full")

			Expect(IsType(err, ErrorTypeBackpressure)).To(BeTrue())
			Expect(IsType(err, ErrorTypeIllegalState)).To(BeFalse())
			Expect(GetType(err)).To(Equal(ErrorTypeBackpressure))
		})

		It("should identify the outermost type through wrapping layers", func() {
			inner := New(ErrorTypeConnectorTransient, "reset")
			outer := Wrap(inner, ErrorTypeInternal, "executing scan")

			Expect(errors.Is(outer, inner)).To(BeTrue())
			Expect(GetType(outer)).To(Equal(ErrorTypeInternal))
		})

		It("should fall back to internal for plain errors", func() {
			Expect(GetType(errors.New("plain"))).To(Equal(ErrorTypeInternal))
			Expect(IsType(errors.New("plain"), ErrorTypeInternal)).To(BeFalse())
		})
	})

	Describe("Retryability", func() {
		It("should mark transient connector failures retryable and nothing else", func() {
			Expect(Retryable(New(ErrorTypeConnectorTransient, "timeout"))).To(BeTrue())
			Expect(Retryable(New(ErrorTypeConnectorPermanent, "auth failure"))).To(BeFalse())
			Expect(Retryable(errors.New("plain"))).To(BeFalse())
		})
	})

	Describe("Log Fields", func() {
		It("should render structured fields for an AppError", func() {
			cause := errors.New("dial tcp: timeout")
			err := Wrap(cause, ErrorTypeConnectorTransient, "executing query").WithDetails("sys-1")

			fields := LogFields(err)
			Expect(fields["error_type"]).To(Equal("connector_transient"))
			Expect(fields["error_details"]).To(Equal("sys-1"))
			Expect(fields["underlying_error"]).To(Equal(cause.Error()))
		})

		It("should render only the message for a plain error", func() {
			fields := LogFields(errors.New("plain"))
			Expect(fields).To(HaveKey("error"))
			Expect(fields).NotTo(HaveKey("error_type"))
		})
	})

	Describe("Chaining", func() {
		It("should fold multiple errors and skip nils", func() {
			Expect(Chain(nil, nil)).To(BeNil())

			single := New(ErrorTypeInvalidInput, "one")
			Expect(Chain(nil, single)).To(BeIdenticalTo(single))

			combined := Chain(New(ErrorTypeInvalidInput, "one"), New(ErrorTypeIllegalState, "two"))
			Expect(combined.Error()).To(ContainSubstring("one"))
			Expect(combined.Error()).To(ContainSubstring("two"))
		})
	})
})
