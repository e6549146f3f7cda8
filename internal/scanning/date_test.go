package scanning

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("dateFromText", func() {
	DescribeTable("finding dates in recognized text",
		func(text string, expected string) {
			Expect(dateFromText(text)).To(Equal(expected))
		},
		Entry("day-first with slashes", "Date: 15/03/2024 10:42", "15-03-2024"),
		Entry("day-first with dots", "15.3.2024", "15-03-2024"),
		Entry("day-first with dashes", "1-12-2023", "01-12-2023"),
		Entry("day-first beats year-first", "2024-03-20\n15/03/2024", "15-03-2024"),
		Entry("year-first", "Printed 2024-03-20", "20-03-2024"),
		Entry("year-first with slashes", "2023/7/4", "04-07-2023"),
		Entry("English month name", "Sold 3 March 2024", "03-03-2024"),
		Entry("abbreviated month name", "12 Dec 2023", "12-12-2023"),
		Entry("French month name", "le 14 juillet 2024", "14-07-2024"),
		Entry("French month with accent", "1 FÉVRIER 2025", "01-02-2025"),
		Entry("two-digit year below the pivot", "05/06/49", "05-06-2049"),
		Entry("two-digit year at the pivot is out of range", "05/06/50", ""),
		Entry("invalid day skips to the next match", "45/03/2024 then 02/03/2024", "02-03-2024"),
		Entry("invalid month", "10/13/2024", ""),
		Entry("year out of range", "01/01/1999", ""),
		Entry("unknown month word", "5 Smarch 2024", ""),
		Entry("no date at all", "TOTAL 12.50 EUR", ""),
	)
})

var _ = Describe("expandYear", func() {
	It("maps years below 50 into the 2000s", func() {
		Expect(expandYear(49)).To(Equal(2049))
		Expect(expandYear(0)).To(Equal(2000))
	})

	It("maps years from 50 into the 1900s", func() {
		Expect(expandYear(50)).To(Equal(1950))
		Expect(expandYear(99)).To(Equal(1999))
	})

	It("keeps four-digit years", func() {
		Expect(expandYear(2024)).To(Equal(2024))
	})
})

var _ = Describe("normalizeModelDate", func() {
	DescribeTable("accepted layouts",
		func(input, expected string) {
			Expect(normalizeModelDate(input)).To(Equal(expected))
		},
		Entry("DD-MM-YYYY", "05-06-2024", "05-06-2024"),
		Entry("ISO", "2024-06-05", "05-06-2024"),
		Entry("slashes", "05/06/2024", "05-06-2024"),
		Entry("dots", "05.06.2024", "05-06-2024"),
		Entry("surrounding whitespace", " 05-06-2024 ", "05-06-2024"),
		Entry("garbage", "soon", ""),
		Entry("impossible day", "31-02-2024", ""),
		Entry("empty", "", ""),
	)
})
