package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
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
server:
  listen_addr: ":8443"
  metrics_addr: ":9090"

postgres:
  dsn: "postgres://localhost/verification"
  max_conns: 20
  conn_timeout: "10s"

redis:
  addr: "localhost:6379"
  credential_cache_ttl: "24h"

notification:
  sink: "slack"
  slack_webhook: "https://hooks.example.invalid/services/x"

orchestrator:
  two_party_deadline: "72h"
  continue_as_new_after: 500
  max_wrong_code_attempts: 3

logging:
  level: "debug"
  format: "json"
`
				Expect(os.WriteFile(configFile, []byte(valid), 0644)).To(Succeed())
			})

			It("should load configuration successfully", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Postgres.DSN).To(Equal("postgres://localhost/verification"))
				Expect(cfg.Postgres.MaxConns).To(Equal(20))
				Expect(cfg.Postgres.ConnTimeout.Duration).To(Equal(10 * time.Second))
				Expect(cfg.Redis.CredentialCacheTTL.Duration).To(Equal(24 * time.Hour))
				Expect(cfg.Orchestrator.TwoPartyDeadline.Duration).To(Equal(72 * time.Hour))
				Expect(cfg.Orchestrator.ContinueAsNewAfter).To(Equal(500))
				Expect(cfg.Notification.Sink).To(Equal("slack"))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimal := `
postgres:
  dsn: "postgres://localhost/verification"
`
				Expect(os.WriteFile(configFile, []byte(minimal), 0644)).To(Succeed())
			})

			It("should load with defaults for missing values", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Postgres.MaxConns).To(Equal(10))
				Expect(cfg.Orchestrator.ContinueAsNewAfter).To(Equal(1000))
				Expect(cfg.Orchestrator.TwoPartyDeadline.Duration).To(Equal(72 * time.Hour))
				Expect(cfg.Notification.Sink).To(Equal("file"))
				Expect(cfg.Notification.FileOutputDir).ToNot(BeEmpty())
			})
		})

		Context("when config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load("/nonexistent/config.yaml")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				invalid := "postgres:\n  dsn: [\n"
				Expect(os.WriteFile(configFile, []byte(invalid), 0644)).To(Succeed())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when a duration field is malformed", func() {
			BeforeEach(func() {
				invalid := `
postgres:
  dsn: "postgres://localhost/verification"
orchestrator:
  two_party_deadline: "not-a-duration"
`
				Expect(os.WriteFile(configFile, []byte(invalid), 0644)).To(Succeed())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when notification sink is slack without a webhook", func() {
			BeforeEach(func() {
				invalid := `
postgres:
  dsn: "postgres://localhost/verification"
notification:
  sink: "slack"
`
				Expect(os.WriteFile(configFile, []byte(invalid), 0644)).To(Succeed())
			})

			It("should fail validation", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("slack_webhook is required"))
			})
		})
	})

	Describe("validate", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = defaultConfig()
			cfg.Postgres.DSN = "postgres://localhost/verification"
			cfg.Notification.FileOutputDir = tempDir
		})

		It("should pass for a fully-populated default config", func() {
			Expect(validate(cfg)).To(Succeed())
		})

		It("should reject a missing postgres DSN", func() {
			cfg.Postgres.DSN = ""
			err := validate(cfg)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("postgres DSN is required"))
		})

		It("should reject zero continue-as-new iteration cap", func() {
			cfg.Orchestrator.ContinueAsNewAfter = 0
			err := validate(cfg)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("continue_as_new_after"))
		})

		It("should reject an unsupported notification sink", func() {
			cfg.Notification.Sink = "carrier-pigeon"
			err := validate(cfg)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unsupported notification sink"))
		})
	})

	Describe("loadFromEnv", func() {
		BeforeEach(func() {
			os.Clearenv()
		})

		AfterEach(func() {
			os.Clearenv()
		})

		It("should override values from environment variables", func() {
			os.Setenv("POSTGRES_DSN", "postgres://env/verification")
			os.Setenv("LOG_LEVEL", "debug")
			os.Setenv("CONTINUE_AS_NEW_AFTER", "42")

			cfg := defaultConfig()
			Expect(loadFromEnv(cfg)).To(Succeed())

			Expect(cfg.Postgres.DSN).To(Equal("postgres://env/verification"))
			Expect(cfg.Logging.Level).To(Equal("debug"))
			Expect(cfg.Orchestrator.ContinueAsNewAfter).To(Equal(42))
		})

		It("should leave config unmodified when no relevant environment variables are set", func() {
			cfg := defaultConfig()
			before := *cfg
			Expect(loadFromEnv(cfg)).To(Succeed())
			Expect(*cfg).To(Equal(before))
		})

		It("should error on a malformed CONTINUE_AS_NEW_AFTER", func() {
			os.Setenv("CONTINUE_AS_NEW_AFTER", "not-a-number")
			cfg := defaultConfig()
			Expect(loadFromEnv(cfg)).ToNot(Succeed())
		})
	})
})
