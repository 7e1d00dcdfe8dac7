package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("retry policies", func() {
	Context("fault tolerance", func() {
		var (
			policy *FaultTolerance
			clock  time.Time
			call   Call
		)

		BeforeEach(func() {
			policy = NewFaultTolerance(time.Hour, 4*time.Second)
			clock = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
			policy.now = func() time.Time { return clock }
			call = policy.New()
		})

		When("transient errors keep arriving", func() {
			It("should double the back-off per attempt", func() {
				transient := &TransientError{Cause: errors.New(fake.Sentence(3))}

				delay, err := call.Attempt(transient)
				Expect(err).ToNot(HaveOccurred())
				Expect(delay).To(Equal(4 * time.Second))

				clock = clock.Add(delay)
				delay, err = call.Attempt(transient)
				Expect(err).ToNot(HaveOccurred())
				Expect(delay).To(Equal(8 * time.Second))

				clock = clock.Add(delay)
				delay, err = call.Attempt(transient)
				Expect(err).ToNot(HaveOccurred())
				Expect(delay).To(Equal(16 * time.Second))

				Expect(call.Attempts()).To(Equal(3))
			})
		})

		When("the server supplies a back-off hint", func() {
			It("should floor the computed delay with the hint", func() {
				delay, err := call.Attempt(&BusyError{RetryAfter: 30 * time.Second})

				Expect(err).ToNot(HaveOccurred())
				Expect(delay).To(Equal(30 * time.Second))
			})

			It("should ignore hints shorter than the computed delay", func() {
				_, err := call.Attempt(&BusyError{RetryAfter: time.Second})
				Expect(err).ToNot(HaveOccurred())

				delay, err := call.Attempt(&BusyError{RetryAfter: time.Second})
				Expect(err).ToNot(HaveOccurred())
				Expect(delay).To(Equal(8 * time.Second))
			})
		})

		When("the next delay would cross the maximum wait", func() {
			BeforeEach(func() {
				policy = NewFaultTolerance(10*time.Second, 4*time.Second)
				policy.now = func() time.Time { return clock }
				call = policy.New()
			})

			It("should give up with the attempt count and last cause", func() {
				cause := &TransientError{Cause: errors.New(fake.Sentence(3))}

				delay, err := call.Attempt(cause)
				Expect(err).ToNot(HaveOccurred())
				clock = clock.Add(delay)

				_, err = call.Attempt(cause)
				Expect(err).To(HaveOccurred())

				var exhausted *RetriesExhaustedError
				Expect(errors.As(err, &exhausted)).To(BeTrue())
				Expect(exhausted.Attempts).To(Equal(2))
				Expect(exhausted.Elapsed).To(Equal(4 * time.Second))
				Expect(exhausted.Cause).To(Equal(cause))
				Expect(errors.Is(err, cause)).To(BeTrue(), "the cause should stay reachable for errors.Is")
			})
		})

		When("the exponential delay overflows the maximum wait", func() {
			It("should cap the delay at the maximum wait", func() {
				policy = NewFaultTolerance(time.Hour, 30*time.Minute)
				policy.now = func() time.Time { return clock }
				call = policy.New()

				_, err := call.Attempt(&TransientError{Cause: errors.New(fake.Sentence(3))})
				Expect(err).ToNot(HaveOccurred())

				delay, err := call.Attempt(&TransientError{Cause: errors.New(fake.Sentence(3))})
				Expect(err).ToNot(HaveOccurred())
				Expect(delay).To(Equal(time.Hour))
			})
		})

		When("the error is not transient", func() {
			It("should return it unchanged on the first attempt", func() {
				fault := &FaultError{Code: "ErrorInvalidRestriction", Message: fake.Sentence(3)}

				_, err := call.Attempt(fault)

				Expect(err).To(Equal(fault))
				Expect(call.Attempts()).To(Equal(1))
			})
		})

		When("the caller cancelled the context", func() {
			It("should stop even though the cancellation arrived wrapped", func() {
				_, err := call.Attempt(&TransientError{Cause: fmt.Errorf("posting request: %w", context.Canceled)})

				Expect(err).To(HaveOccurred())
				Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			})
		})

		When("a single call ran out of time", func() {
			It("should treat the expired deadline as transient", func() {
				delay, err := call.Attempt(context.DeadlineExceeded)

				Expect(err).ToNot(HaveOccurred())
				Expect(delay).To(Equal(4 * time.Second))
			})
		})
	})

	Context("fail fast", func() {
		It("should surface every error on the first attempt", func() {
			call := FailFast{}.New()

			_, err := call.Attempt(&BusyError{RetryAfter: time.Minute})

			Expect(err).To(HaveOccurred())
			Expect(call.Attempts()).To(Equal(1))
		})
	})
})

var _ = Describe("error classification", func() {
	DescribeTable("IsTransient",
		func(err error, expected bool) {
			Expect(IsTransient(err)).To(Equal(expected))
		},
		Entry("nil", nil, false),
		Entry("transport failure", &TransientError{Cause: errors.New("connection reset")}, true),
		Entry("server busy", &BusyError{}, true),
		Entry("too many objects", &TooManyObjectsError{}, true),
		Entry("service fault", &FaultError{Code: "ErrorInvalidRestriction"}, false),
		Entry("redirect", &RedirectError{URL: "https://east.example.com/EWS/Exchange.asmx"}, false),
		Entry("missing mailbox", &MailboxNotFoundError{Mailbox: "nobody@example.com"}, false),
		Entry("deadline exceeded", context.DeadlineExceeded, true),
		Entry("cancellation", context.Canceled, false),
	)

	It("should extract the server back-off hint from a wrapped chain", func() {
		err := fmt.Errorf("call failed: %w", &BusyError{RetryAfter: 90 * time.Second})

		hint, ok := RetryAfterHint(err)

		Expect(ok).To(BeTrue())
		Expect(hint).To(Equal(90 * time.Second))
	})

	It("should report no hint when the server supplied none", func() {
		_, ok := RetryAfterHint(&BusyError{})

		Expect(ok).To(BeFalse())
	})
})
