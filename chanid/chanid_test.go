package chanid_test

import (
	"net/url"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ddevcap/subtracker/chanid"
)

var _ = Describe("Normalize", func() {
	DescribeTable("accepts usable IDs",
		func(raw, want string) {
			id, err := chanid.Normalize(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal(want))
		},
		Entry("plain channel id", "UCX6OQ3DkcsbYNE6H8uQQuVA", "UCX6OQ3DkcsbYNE6H8uQQuVA"),
		Entry("handle", "@mrbeast", "@mrbeast"),
		Entry("surrounding whitespace is trimmed", "  UCabc\n", "UCabc"),
		Entry("non-ASCII letters", "chaîne", "chaîne"),
	)

	DescribeTable("rejects unusable IDs with ErrInvalid",
		func(raw string) {
			_, err := chanid.Normalize(raw)
			Expect(err).To(MatchError(chanid.ErrInvalid))
		},
		Entry("empty", ""),
		Entry("only whitespace", "   "),
		Entry("inner space", "UC abc"),
		Entry("slash", "a/b"),
		Entry("backslash", `a\b`),
		Entry("dot-dot", ".."),
		Entry("control character", "UC\x00abc"),
		Entry("too long", strings.Repeat("x", chanid.MaxLen+1)),
	)
})

var _ = Describe("FileName", func() {
	It("appends the json extension", func() {
		Expect(chanid.FileName("UCabc")).To(Equal("UCabc.json"))
	})

	It("escapes characters that are unsafe in file names", func() {
		Expect(chanid.FileName("a?b")).NotTo(ContainSubstring("?"))
	})

	DescribeTable("escapes one path segment reversibly",
		func(id string) {
			seg := chanid.PathSegment(id)
			Expect(seg).NotTo(ContainSubstring("?"))
			got, err := url.PathUnescape(seg)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(id))
			Expect(chanid.FileName(id)).To(Equal(seg + ".json"))
		},
		Entry("plain", "UCabc"),
		Entry("handle", "@handle"),
		Entry("percent sign", "100%real"),
		Entry("question mark", "what?"),
	)
})
