package receipt

import (
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		basePath string
		storage  *LocalStorage
	)

	BeforeEach(func() {
		basePath = filepath.Join(GinkgoT().TempDir(), "receipts")
		var err error
		storage, err = NewLocalStorage(basePath)
		Expect(err).NotTo(HaveOccurred())
	})

	It("creates the base directory", func() {
		info, err := os.Stat(basePath)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
	})

	It("saves, reads and deletes a file", func() {
		name, err := storage.Save("id_receipt.jpg", []byte("jpeg"))
		Expect(err).NotTo(HaveOccurred())
		Expect(name).To(Equal("id_receipt.jpg"))

		data, err := storage.Get(name)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte("jpeg")))

		Expect(storage.Delete(name)).To(Succeed())
		_, err = os.Stat(filepath.Join(basePath, name))
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("returns ErrNotFound for a missing file", func() {
		_, err := storage.Get("missing.jpg")
		Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
	})

	It("fails to delete a missing file", func() {
		Expect(storage.Delete("missing.jpg")).NotTo(Succeed())
	})

	DescribeTable("rejecting names outside the directory",
		func(name string) {
			_, err := storage.Save(name, []byte("x"))
			Expect(errors.Is(err, ErrInvalidInput)).To(BeTrue())
			_, err = storage.Get(name)
			Expect(errors.Is(err, ErrInvalidInput)).To(BeTrue())
			Expect(errors.Is(storage.Delete(name), ErrInvalidInput)).To(BeTrue())
		},
		Entry("parent traversal", "../secret"),
		Entry("nested path", "a/b.jpg"),
		Entry("dot dot", ".."),
		Entry("empty", ""),
	)
})
