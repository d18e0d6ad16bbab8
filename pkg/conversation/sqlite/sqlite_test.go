package sqlite_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/weftlabs/weft/pkg/conversation"
	"github.com/weftlabs/weft/pkg/conversation/sqlite"
)

var _ = Describe("SQLite Store", func() {
	var (
		store *sqlite.Store
		ctx   context.Context
	)

	BeforeEach(func() {
		var err error
		store, err = sqlite.NewStore(":memory:")
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	It("round-trips turns in append order", func() {
		_, err := store.Append(ctx, "conv-1", conversation.Turn{ID: "t1", Role: conversation.RoleUser, Text: "hi"})
		Expect(err).NotTo(HaveOccurred())
		_, err = store.Append(ctx, "conv-1", conversation.Turn{ID: "t2", Role: conversation.RoleAgent, Text: "hello"})
		Expect(err).NotTo(HaveOccurred())

		history, err := store.History(ctx, "conv-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(HaveLen(2))
		Expect(history[0].Role).To(Equal(conversation.RoleUser))
		Expect(history[1].Role).To(Equal(conversation.RoleAgent))
	})

	It("ignores a retried append with the same turn id", func() {
		_, err := store.Append(ctx, "conv-1", conversation.Turn{ID: "t1", Role: conversation.RoleAgent, Text: "answer"})
		Expect(err).NotTo(HaveOccurred())

		stored, err := store.Append(ctx, "conv-1", conversation.Turn{ID: "t1", Role: conversation.RoleAgent, Text: "different"})
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Text).To(Equal("answer"))

		history, err := store.History(ctx, "conv-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(HaveLen(1))
	})

	It("returns an empty history for an unknown conversation", func() {
		history, err := store.History(ctx, "nope")
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(BeEmpty())
	})
})
