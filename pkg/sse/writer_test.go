package sse_test

import (
	"bufio"
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/weftlabs/weft/pkg/sse"
)

var _ = Describe("Writer", func() {
	var buf bytes.Buffer

	BeforeEach(func() {
		buf.Reset()
	})

	It("writes a typed event", func() {
		w := sse.NewWriter(&buf)
		Expect(w.Send(sse.Event{Type: "delta", Data: "hello"})).To(Succeed())

		Expect(buf.String()).To(Equal("event: delta\ndata: hello\n\n"))
	})

	It("omits the event field for the default type", func() {
		w := sse.NewWriter(&buf)
		Expect(w.Send(sse.Event{Data: "hello"})).To(Succeed())

		Expect(buf.String()).To(Equal("data: hello\n\n"))
	})

	It("splits embedded newlines across data lines", func() {
		w := sse.NewWriter(&buf)
		Expect(w.Send(sse.Event{Data: "line one\nline two"})).To(Succeed())

		Expect(buf.String()).To(Equal("data: line one\ndata: line two\n\n"))
	})

	It("includes the id field when set", func() {
		w := sse.NewWriter(&buf)
		Expect(w.Send(sse.Event{Type: "done", ID: "42", Data: "x"})).To(Succeed())

		Expect(buf.String()).To(Equal("event: done\nid: 42\ndata: x\n\n"))
	})

	It("flushes a buffered destination on every send", func() {
		bw := bufio.NewWriterSize(&buf, 4096)
		w := sse.NewWriter(bw)
		Expect(w.Send(sse.Event{Data: "flushed"})).To(Succeed())

		// The bytes are visible without an explicit Flush by the caller.
		Expect(buf.String()).To(ContainSubstring("flushed"))
	})

	It("marshals JSON payloads", func() {
		w := sse.NewWriter(&buf)
		Expect(w.SendJSON("done", map[string]int{"count": 3})).To(Succeed())

		Expect(buf.String()).To(Equal("event: done\ndata: {\"count\":3}\n\n"))
	})

	It("writes comments for keep-alives", func() {
		w := sse.NewWriter(&buf)
		Expect(w.Comment("ping")).To(Succeed())

		Expect(buf.String()).To(Equal(": ping\n\n"))
	})
})
