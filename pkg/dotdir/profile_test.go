package dotdir_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/murmurhq/murmur/pkg/dotdir"
)

var _ = Describe("dotdir.Manager profile", func() {
	var tmpDir string
	var m *dotdir.Manager

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "dotdir-test-*")
		Expect(err).NotTo(HaveOccurred())
		m = dotdir.NewManager()
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("LoadProfile", func() {
		It("returns nil when no profile file exists", func() {
			profile, err := m.LoadProfile(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(profile).To(BeNil())
		})

		It("loads a valid profile", func() {
			// Write a profile file manually
			data := `{"user_id":"ada","timezone":"Pacific/Auckland"}`
			err := os.WriteFile(filepath.Join(tmpDir, "profile.json"), []byte(data), 0o600)
			Expect(err).NotTo(HaveOccurred())

			profile, err := m.LoadProfile(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(profile).NotTo(BeNil())
			Expect(profile.UserID).To(Equal("ada"))
			Expect(profile.Timezone).To(Equal("Pacific/Auckland"))
		})

		It("returns error for invalid JSON", func() {
			err := os.WriteFile(filepath.Join(tmpDir, "profile.json"), []byte("not json"), 0o600)
			Expect(err).NotTo(HaveOccurred())

			profile, err := m.LoadProfile(tmpDir)
			Expect(err).To(HaveOccurred())
			Expect(profile).To(BeNil())
		})
	})

	Describe("SaveProfile", func() {
		It("persists the profile to disk", func() {
			profile := &dotdir.Profile{UserID: "grace", Timezone: "Asia/Tokyo"}

			err := m.SaveProfile(profile, tmpDir)
			Expect(err).NotTo(HaveOccurred())

			// Verify the file exists
			_, err = os.Stat(filepath.Join(tmpDir, "profile.json"))
			Expect(err).NotTo(HaveOccurred())

			// Load it back and verify
			loaded, err := m.LoadProfile(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.UserID).To(Equal("grace"))
			Expect(loaded.Timezone).To(Equal("Asia/Tokyo"))
		})

		It("returns error for nil profile", func() {
			err := m.SaveProfile(nil, tmpDir)
			Expect(err).To(HaveOccurred())
		})

		It("overwrites an existing profile", func() {
			first := &dotdir.Profile{UserID: "ada"}
			second := &dotdir.Profile{UserID: "grace"}

			err := m.SaveProfile(first, tmpDir)
			Expect(err).NotTo(HaveOccurred())

			err = m.SaveProfile(second, tmpDir)
			Expect(err).NotTo(HaveOccurred())

			loaded, err := m.LoadProfile(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.UserID).To(Equal("grace"))
		})
	})

	Describe("ClearProfile", func() {
		It("removes the profile file", func() {
			profile := &dotdir.Profile{UserID: "to-clear"}
			err := m.SaveProfile(profile, tmpDir)
			Expect(err).NotTo(HaveOccurred())

			err = m.ClearProfile(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			loaded, err := m.LoadProfile(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(BeNil())
		})

		It("succeeds when no profile file exists", func() {
			err := m.ClearProfile(tmpDir)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("round-trip", func() {
		It("saves and loads the profile correctly", func() {
			profile := &dotdir.Profile{
				UserID:   "ada",
				Timezone: "Europe/London",
			}

			err := m.SaveProfile(profile, tmpDir)
			Expect(err).NotTo(HaveOccurred())

			loaded, err := m.LoadProfile(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(Equal(profile))
		})
	})
})
