package scanning

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("OCRSpace", func() {
	var (
		server *ghttp.Server
		ocr    *OCRSpace
		img    Image
		text   string
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		ocr, err = NewOCRSpace(server.URL()+"/parse/image", "secret", "fre", time.Second)
		Expect(err).NotTo(HaveOccurred())
		img = Image{URL: "https://example.com/receipt.jpg"}
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		text = ocr.ExtractText(context.Background(), img)
	})

	When("recognizing a URL", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/parse/image"),
				func(w http.ResponseWriter, r *http.Request) {
					Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
					Expect(r.FormValue("apikey")).To(Equal("secret"))
					Expect(r.FormValue("language")).To(Equal("fre"))
					Expect(r.FormValue("url")).To(Equal("https://example.com/receipt.jpg"))
					Expect(r.FormValue("OCREngine")).To(Equal("2"))
					Expect(r.FormValue("isOverlayRequired")).To(Equal("true"))
				},
				ghttp.RespondWith(http.StatusOK, `{"ParsedResults":[{"ParsedText":"SHOP\nTOTAL 5.00","FileParseExitCode":1}],"OCRExitCode":1,"IsErroredOnProcessing":false}`),
			))
		})

		It("returns the parsed text", func() {
			Expect(text).To(Equal("SHOP\nTOTAL 5.00"))
		})
	})

	When("recognizing a data URI", func() {
		BeforeEach(func() {
			img = Image{URL: "data:image/png;base64,iVBORw0KGgo="}
			server.AppendHandlers(ghttp.CombineHandlers(
				func(w http.ResponseWriter, r *http.Request) {
					Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
					Expect(r.FormValue("base64Image")).To(Equal("data:image/png;base64,iVBORw0KGgo="))
					Expect(r.FormValue("url")).To(BeEmpty())
				},
				ghttp.RespondWith(http.StatusOK, `{"ParsedResults":[{"ParsedText":"ok"}]}`),
			))
		})

		It("submits it as base64", func() {
			Expect(text).To(Equal("ok"))
		})
	})

	When("recognizing an upload", func() {
		BeforeEach(func() {
			img = Image{Data: []byte("%PDF-1.4 fake"), ContentType: "application/pdf", Filename: "scan.pdf"}
			server.AppendHandlers(ghttp.CombineHandlers(
				func(w http.ResponseWriter, r *http.Request) {
					Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
					f, header, err := r.FormFile("file")
					Expect(err).NotTo(HaveOccurred())
					defer f.Close()
					Expect(header.Filename).To(Equal("scan.pdf"))
					Expect(header.Header.Get("Content-Type")).To(Equal("application/pdf"))
					data, err := io.ReadAll(f)
					Expect(err).NotTo(HaveOccurred())
					Expect(data).To(Equal([]byte("%PDF-1.4 fake")))
				},
				ghttp.RespondWith(http.StatusOK, `{"ParsedResults":[{"ParsedText":"page one"},{"ParsedText":"  "},{"ParsedText":"page two"}]}`),
			))
		})

		It("joins the text of every page", func() {
			Expect(text).To(Equal("page one\npage two"))
		})
	})

	When("the upload has an unsupported content type", func() {
		BeforeEach(func() {
			img = Image{Data: []byte("text"), ContentType: "text/plain", Filename: "notes.txt"}
		})

		It("returns empty text without calling the provider", func() {
			Expect(text).To(BeEmpty())
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})
	})

	When("the upload is larger than 5MB", func() {
		BeforeEach(func() {
			img = Image{Data: bytes.Repeat([]byte{0xff}, MaxUploadSize+1), ContentType: "image/jpeg"}
		})

		It("returns empty text without calling the provider", func() {
			Expect(text).To(BeEmpty())
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})
	})

	When("the image reference is empty", func() {
		BeforeEach(func() {
			img = Image{}
		})

		It("returns empty text", func() {
			Expect(text).To(BeEmpty())
		})
	})

	When("the provider is slower than the timeout", func() {
		BeforeEach(func() {
			var err error
			ocr, err = NewOCRSpace(server.URL(), "secret", "eng", 50*time.Millisecond)
			Expect(err).NotTo(HaveOccurred())
			server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(300 * time.Millisecond)
			})
		})

		It("returns empty text", func() {
			Expect(text).To(BeEmpty())
		})
	})
})

var _ = Describe("NewOCRSpace", func() {
	It("requires an api key", func() {
		_, err := NewOCRSpace("", "", "", 0)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("OCRSpace provider failures", func() {
	DescribeTable("returning empty text on provider failure",
		func(status int, body string) {
			failing := ghttp.NewServer()
			defer failing.Close()
			failing.AppendHandlers(ghttp.RespondWith(status, body))

			o, err := NewOCRSpace(failing.URL(), "secret", "", time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(o.ExtractText(context.Background(), Image{URL: "https://example.com/x.png"})).To(BeEmpty())
		},
		Entry("non-success status", http.StatusForbidden, `{"error":"bad key"}`),
		Entry("malformed envelope", http.StatusOK, `not json`),
		Entry("processing error as string", http.StatusOK, `{"IsErroredOnProcessing":true,"ErrorMessage":"Timed out"}`),
		Entry("processing error as array", http.StatusOK, `{"IsErroredOnProcessing":true,"ErrorMessage":["E101","Timed out"]}`),
		Entry("no parsed results", http.StatusOK, `{"ParsedResults":[]}`),
		Entry("null parsed text", http.StatusOK, `{"ParsedResults":[{"ParsedText":null}]}`),
	)
})
