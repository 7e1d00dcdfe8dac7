package bulk

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type fatalError struct{}

func (fatalError) Error() string    { return "the whole dispatch is invalid" }
func (fatalError) BatchFatal() bool { return true }

var _ = Describe("dispatch", func() {
	inputs := func(n int) []int {
		in := make([]int, n)
		for i := range in {
			in[i] = i
		}
		return in
	}

	echo := func(ctx context.Context, batch []int) ([]Result[string], error) {
		out := make([]Result[string], len(batch))
		for i, v := range batch {
			out[i] = Result[string]{Value: strconv.Itoa(v)}
		}
		return out, nil
	}

	It("should partition inputs into chunk sized batches in order", func() {
		var batchSizes []int
		results, err := Dispatch(context.Background(), logger, inputs(10), 3,
			func(ctx context.Context, batch []int) ([]Result[string], error) {
				batchSizes = append(batchSizes, len(batch))
				return echo(ctx, batch)
			})

		Expect(err).ToNot(HaveOccurred())
		Expect(batchSizes).To(Equal([]int{3, 3, 3, 1}))
		Expect(results).To(HaveLen(10))
		for i, r := range results {
			Expect(r.Err).ToNot(HaveOccurred())
			Expect(r.Value).To(Equal(strconv.Itoa(i)), "results stay index aligned with inputs")
		}
	})

	It("should run nothing for an empty input", func() {
		results, err := Dispatch(context.Background(), logger, nil, 3,
			func(ctx context.Context, batch []int) ([]Result[string], error) {
				Fail("no batch should run")
				return nil, nil
			})

		Expect(err).ToNot(HaveOccurred())
		Expect(results).To(BeEmpty())
	})

	It("should reject a non positive chunk size", func() {
		_, err := Dispatch(context.Background(), logger, inputs(3), 0, echo)

		Expect(err).To(MatchError(ContainSubstring("chunk size must be positive")))
	})

	When("one batch fails", func() {
		It("should mark that batch's slots and keep going", func() {
			batchErr := errors.New("the second batch misfired")
			calls := 0
			results, err := Dispatch(context.Background(), logger, inputs(5), 2,
				func(ctx context.Context, batch []int) ([]Result[string], error) {
					calls++
					if calls == 2 {
						return nil, batchErr
					}
					return echo(ctx, batch)
				})

			Expect(err).ToNot(HaveOccurred())
			Expect(calls).To(Equal(3))
			Expect(results[0].Err).ToNot(HaveOccurred())
			Expect(results[1].Err).ToNot(HaveOccurred())
			Expect(results[2].Err).To(MatchError(batchErr))
			Expect(results[3].Err).To(MatchError(batchErr))
			Expect(results[4].Err).ToNot(HaveOccurred())
		})
	})

	When("a batch fails fatally", func() {
		It("should abort without running the remaining batches", func() {
			calls := 0
			_, err := Dispatch(context.Background(), logger, inputs(6), 2,
				func(ctx context.Context, batch []int) ([]Result[string], error) {
					calls++
					return nil, fmt.Errorf("dispatching: %w", fatalError{})
				})

			Expect(errors.Is(err, fatalError{})).To(BeTrue())
			Expect(calls).To(Equal(1))
		})

		It("should abort on a fatal slot error as well", func() {
			calls := 0
			_, err := Dispatch(context.Background(), logger, inputs(4), 2,
				func(ctx context.Context, batch []int) ([]Result[string], error) {
					calls++
					out, _ := echo(ctx, batch)
					out[1].Err = fatalError{}
					return out, nil
				})

			Expect(errors.Is(err, fatalError{})).To(BeTrue())
			Expect(calls).To(Equal(1))
		})
	})

	It("should reject a batch that returns the wrong number of results", func() {
		_, err := Dispatch(context.Background(), logger, inputs(3), 3,
			func(ctx context.Context, batch []int) ([]Result[string], error) {
				return make([]Result[string], 1), nil
			})

		Expect(err).To(MatchError(ContainSubstring("returned 1 results for 3 inputs")))
	})
})
