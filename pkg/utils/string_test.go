package utils

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("truncate", func() {
	It("returns the string unchanged when within the limit", func() {
		Expect(Truncate("short", 10)).To(Equal("short"))
	})

	It("returns the string unchanged when exactly at the limit", func() {
		Expect(Truncate("12345", 5)).To(Equal("12345"))
	})

	It("truncates with ellipsis when over the limit", func() {
		result := Truncate("this is a long string", 10)
		Expect(result).To(Equal("this is a ..."))
	})
})

var _ = Describe("strip html", func() {
	It("returns plain text unchanged", func() {
		Expect(StripHTML("hello world")).To(Equal("hello world"))
	})

	It("removes tags", func() {
		Expect(StripHTML("<p>hello <b>bold</b> world</p>")).To(Equal("hello bold world"))
	})

	It("collapses whitespace left behind by markup", func() {
		Expect(StripHTML("<div>\n  first\n</div>\n<div>second</div>")).To(Equal("first second"))
	})

	It("handles unclosed tags", func() {
		Expect(StripHTML("plain <img src='x'> text")).To(Equal("plain text"))
	})
})
