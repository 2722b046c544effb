package paymentgateway_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mazuri-stores/mazuri-api/internal/paymentgateway"
)

var _ = Describe("NormalizePhoneNumber", func() {
	DescribeTable("rewrites local formats to the 254 prefix",
		func(raw, expected string) {
			Expect(paymentgateway.NormalizePhoneNumber(raw)).To(Equal(expected))
		},
		Entry("leading zero", "0712345678", "254712345678"),
		Entry("already prefixed", "254712345678", "254712345678"),
		Entry("bare nine digits", "712345678", "254712345678"),
		Entry("plus sign and spaces", "+254 712 345 678", "254712345678"),
		Entry("dashes", "0712-345-678", "254712345678"),
		Entry("new 01 range", "0110123456", "254110123456"),
	)

	It("passes unrecognised formats through as digits", func() {
		Expect(paymentgateway.NormalizePhoneNumber("12345")).To(Equal("12345"))
		Expect(paymentgateway.NormalizePhoneNumber("")).To(Equal(""))
		Expect(paymentgateway.NormalizePhoneNumber("abc")).To(Equal(""))
	})

	It("is idempotent", func() {
		once := paymentgateway.NormalizePhoneNumber("0712345678")
		Expect(paymentgateway.NormalizePhoneNumber(once)).To(Equal(once))
	})
})

var _ = Describe("MaskPhoneNumber", func() {
	It("keeps the prefix and last three digits", func() {
		Expect(paymentgateway.MaskPhoneNumber("254712345678")).To(Equal("2547*****678"))
	})

	It("masks short values entirely", func() {
		Expect(paymentgateway.MaskPhoneNumber("1234")).To(Equal("****"))
	})
})
