package llm

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
)

func TestLLM(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "LLM Client Suite")
}

type fakeBackend struct {
	name string
	resp Response
	err  error
	n    int
}

func (f *fakeBackend) Name() string { return f.name }
func (f *fakeBackend) Complete(ctx context.Context, req Request) (Response, error) {
	f.n++
	return f.resp, f.err
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.FatalLevel)
	return l
}

var _ = Describe("Client.Complete", func() {
	It("returns the primary backend's response on success", func() {
		primary := &fakeBackend{name: "primary", resp: Response{Text: "ok", InputTokens: 10, OutputTokens: 5}}
		client := NewClient(primary, nil, testLogger())

		resp, err := client.Complete(context.Background(), Request{System: "s", User: "u", MaxTokens: 300})
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.Text).To(Equal("ok"))
	})

	It("falls back to the secondary backend once the primary is exhausted", func() {
		primary := &fakeBackend{name: "primary", err: errors.New("boom")}
		secondary := &fakeBackend{name: "secondary", resp: Response{Text: "fallback"}}
		client := NewClient(primary, secondary, testLogger())

		resp, err := client.Complete(context.Background(), Request{System: "s", User: "u", MaxTokens: 300})
		Expect(err).ToNot(HaveOccurred())
		Expect(resp.Text).To(Equal("fallback"))
		Expect(primary.n).To(BeNumerically(">", 1)) // retried before failing over
	})

	It("surfaces an error when both backends fail", func() {
		primary := &fakeBackend{name: "primary", err: errors.New("boom")}
		secondary := &fakeBackend{name: "secondary", err: errors.New("also boom")}
		client := NewClient(primary, secondary, testLogger())

		_, err := client.Complete(context.Background(), Request{System: "s", User: "u", MaxTokens: 300})
		Expect(err).To(HaveOccurred())
	})
})
