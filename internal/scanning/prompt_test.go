package scanning

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("buildReceiptPrompt", func() {
	var (
		categories []string
		prompt     string
	)

	BeforeEach(func() {
		categories = []string{"Food & Dining", "Kids <3", "Miscellaneous"}
	})

	JustBeforeEach(func() {
		prompt = buildReceiptPrompt("CAFE\nTOTAL 1.00", categories)
	})

	It("embeds the category names verbatim", func() {
		Expect(prompt).To(ContainSubstring(`["Food & Dining","Kids <3","Miscellaneous"]`))
		Expect(prompt).NotTo(ContainSubstring(`\u0026`))
		Expect(prompt).NotTo(ContainSubstring(`\u003c`))
	})

	It("embeds the recognized text", func() {
		Expect(prompt).To(ContainSubstring("RECEIPT TEXT:\nCAFE\nTOTAL 1.00\n\n"))
	})

	When("no categories are given", func() {
		BeforeEach(func() {
			categories = nil
		})

		It("embeds an empty list", func() {
			Expect(prompt).To(ContainSubstring("AVAILABLE CATEGORIES:\n[]\n\n"))
		})
	})
})
