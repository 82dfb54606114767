package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	g "github.com/onsi/gomega"
)

var (
	Expect           = g.Expect
	Succeed          = g.Succeed
	HaveOccurred     = g.HaveOccurred
	Equal            = g.Equal
	BeTrue           = g.BeTrue
	BeFalse          = g.BeFalse
	ContainSubstring = g.ContainSubstring
	MatchError       = g.MatchError
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "diagkernel-config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				valid := `
diagnostics:
  max_concurrent_scans: 6
  scan_queue_size: 20
  scan_timeout: "45m"
  finding_cap: 5000
  batch_size: 250

remediation:
  enable_auto_remediation: true
  require_approval: false
  snapshot_ttl: "2h"
  pool_size: 3
  max_retries: 4
  retry_base_delay: "1s"
  retry_max_delay: "20s"

event_bus:
  subscriber_buffer_size: 512

logging:
  level: "debug"
  format: "text"
`
				Expect(os.WriteFile(configFile, []byte(valid), 0644)).To(Succeed())
			})

			It("should load every field", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Diagnostics.MaxConcurrentScans).To(Equal(6))
				Expect(cfg.Diagnostics.ScanQueueSize).To(Equal(20))
				Expect(cfg.Diagnostics.ScanTimeout.Duration()).To(Equal(45 * time.Minute))
				Expect(cfg.Diagnostics.FindingCap).To(Equal(5000))
				Expect(cfg.Diagnostics.BatchSize).To(Equal(250))

				Expect(cfg.Remediation.EnableAutoRemediation).To(BeTrue())
				Expect(cfg.Remediation.RequireApproval).To(BeFalse())
				Expect(cfg.Remediation.SnapshotTTL.Duration()).To(Equal(2 * time.Hour))
				Expect(cfg.Remediation.PoolSize).To(Equal(3))
				Expect(cfg.Remediation.MaxRetries).To(Equal(4))
				Expect(cfg.Remediation.RetryBaseDelay.Duration()).To(Equal(time.Second))
				Expect(cfg.Remediation.RetryMaxDelay.Duration()).To(Equal(20 * time.Second))

				Expect(cfg.EventBus.SubscriberBufferSize).To(Equal(512))
				Expect(cfg.Logging.Level).To(Equal("debug"))
				Expect(cfg.Logging.Format).To(Equal("text"))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimal := `
diagnostics:
  max_concurrent_scans: 2
`
				Expect(os.WriteFile(configFile, []byte(minimal), 0644)).To(Succeed())
			})

			It("should fill the rest from defaults", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Diagnostics.MaxConcurrentScans).To(Equal(2))
				Expect(cfg.Diagnostics.ScanTimeout.Duration()).To(Equal(time.Hour))
				Expect(cfg.Remediation.PoolSize).To(Equal(2))
				Expect(cfg.Remediation.RequireApproval).To(BeTrue())
				Expect(cfg.Logging.Format).To(Equal("json"))
			})
		})

		Context("when config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load(filepath.Join(tempDir, "missing.yaml"))
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				invalid := "diagnostics:\n  max_concurrent_scans: [\n"
				Expect(os.WriteFile(configFile, []byte(invalid), 0644)).To(Succeed())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when a duration is malformed", func() {
			BeforeEach(func() {
				bad := "diagnostics:\n  scan_timeout: \"not-a-duration\"\n"
				Expect(os.WriteFile(configFile, []byte(bad), 0644)).To(Succeed())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})
	})

	Describe("validate", func() {
		It("rejects a non-positive concurrency limit", func() {
			cfg := Default()
			cfg.Diagnostics.MaxConcurrentScans = 0
			Expect(validate(cfg)).To(MatchError(ContainSubstring("max_concurrent_scans")))
		})

		It("rejects an unsupported logging format", func() {
			cfg := Default()
			cfg.Logging.Format = "xml"
			Expect(validate(cfg)).To(MatchError(ContainSubstring("unsupported logging format")))
		})

		It("accepts the default configuration", func() {
			Expect(validate(Default())).To(Succeed())
		})
	})
})
