package protocol

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// fakeCaller replays prepared per-attempt errors and records every call.
type fakeCaller struct {
	preparedErrors []error
	receivedOps    []Operation
	receivedConns  []*Conn
}

func (c *fakeCaller) Call(ctx context.Context, op Operation, conn *Conn) error {
	index := len(c.receivedOps)
	c.receivedOps = append(c.receivedOps, op)
	c.receivedConns = append(c.receivedConns, conn)
	if index < len(c.preparedErrors) {
		return c.preparedErrors[index]
	}
	return nil
}

type noopOperation struct {
	name string
}

func (o *noopOperation) Name() string             { return o.name }
func (o *noopOperation) Payload() (string, error) { return "<m:" + o.name + "/>", nil }
func (o *noopOperation) Consume([]byte) error     { return nil }

var _ = Describe("session", func() {
	var (
		caller    *fakeCaller
		dialCount int32
		session   *Session
		op        *noopOperation
	)

	BeforeEach(func() {
		caller = &fakeCaller{}
		dialCount = 0
		dial := func(endpoint string, credential Credential) (*Conn, error) {
			atomic.AddInt32(&dialCount, 1)
			return &Conn{ID: fake.UUID(), Endpoint: endpoint, Credential: credential}, nil
		}
		session = NewSession(logger, fake.URL(), Credential{Username: fake.Email(), Password: fake.Word()},
			WithCaller(caller),
			WithPolicy(NewFaultTolerance(time.Minute, time.Millisecond)),
			WithPoolSize(3, dial),
		)
		op = &noopOperation{name: "FindItem"}
	})

	AfterEach(func() {
		session.Close()
	})

	When("the call succeeds", func() {
		It("should run the operation once over a pooled connection", func() {
			Expect(session.Do(context.Background(), op)).To(Succeed())
			Expect(session.Do(context.Background(), op)).To(Succeed())

			Expect(caller.receivedOps).To(HaveLen(2))
			Expect(caller.receivedConns[1]).To(BeIdenticalTo(caller.receivedConns[0]),
				"the returned connection should be reused")
			Expect(atomic.LoadInt32(&dialCount)).To(Equal(int32(1)))
		})
	})

	When("a transient error precedes success", func() {
		BeforeEach(func() {
			caller.preparedErrors = []error{
				&TransientError{Cause: errors.New("connection reset")},
				nil,
			}
		})

		It("should retry on a fresh connection and succeed", func() {
			Expect(session.Do(context.Background(), op)).To(Succeed())

			Expect(caller.receivedOps).To(HaveLen(2))
			Expect(caller.receivedConns[1]).ToNot(BeIdenticalTo(caller.receivedConns[0]),
				"a wedged transport must not be reused")
			Expect(atomic.LoadInt32(&dialCount)).To(Equal(int32(2)))
		})
	})

	When("the server reports too many open objects", func() {
		BeforeEach(func() {
			caller.preparedErrors = []error{&TooManyObjectsError{}, nil}
		})

		It("should shrink the pool before retrying", func() {
			Expect(session.Do(context.Background(), op)).To(Succeed())

			Expect(session.Pool().Target()).To(Equal(2))
			Expect(caller.receivedOps).To(HaveLen(2))
		})
	})

	When("the server rejects the request outright", func() {
		var fault *FaultError

		BeforeEach(func() {
			fault = &FaultError{Code: "ErrorInvalidRestriction", Message: fake.Sentence(3)}
			caller.preparedErrors = []error{fault}
		})

		It("should fail without retrying", func() {
			err := session.Do(context.Background(), op)

			Expect(err).To(Equal(fault))
			Expect(caller.receivedOps).To(HaveLen(1))
		})
	})

	When("the endpoint is no longer the right one", func() {
		var evicted []error

		BeforeEach(func() {
			evicted = nil
			caller.preparedErrors = []error{&RedirectError{URL: "https://east.example.com/EWS/Exchange.asmx"}}
			session = NewSession(logger, fake.URL(), Credential{Username: fake.Email()},
				WithCaller(caller),
				WithInvalidEndpointHandler(func(err error) { evicted = append(evicted, err) }),
			)
		})

		It("should invoke the invalid endpoint hook with the terminal error", func() {
			err := session.Do(context.Background(), op)

			var redirect *RedirectError
			Expect(errors.As(err, &redirect)).To(BeTrue())
			Expect(evicted).To(HaveLen(1))
			Expect(errors.Is(evicted[0], err)).To(BeTrue())
		})
	})

	When("retries keep failing until the policy gives up", func() {
		BeforeEach(func() {
			session = NewSession(logger, fake.URL(), Credential{Username: fake.Email()},
				WithCaller(caller),
				WithPolicy(FailFast{}),
			)
			caller.preparedErrors = []error{&BusyError{RetryAfter: time.Minute}}
		})

		It("should honor a fail fast policy on the first transient error", func() {
			err := session.Do(context.Background(), op)

			var busy *BusyError
			Expect(errors.As(err, &busy)).To(BeTrue())
			Expect(caller.receivedOps).To(HaveLen(1))
		})
	})
})
