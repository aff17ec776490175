package config

import (
	"os"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

func setRequiredEnv() {
	os.Setenv("EVENT_STORE_URL", "http://events.local")
	os.Setenv("REGISTRY_URL", "http://registry.local")
	os.Setenv("ORCHESTRATOR_URL", "http://orchestrator.local")
	os.Setenv("ORCHESTRATOR_TOKEN", "test-token")
	os.Setenv("LLM_API_KEY", "test-key")
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
}

func clearEnv() {
	for _, k := range []string{
		"EVENT_STORE_URL", "REGISTRY_URL", "ORCHESTRATOR_URL", "ORCHESTRATOR_TOKEN",
		"LLM_API_KEY", "LLM_MODEL", "SCHEDULE_CRON", "DATABASE_URL", "SAFETY_LEVEL",
		"LOG_LEVEL", "ALLOW_SAFETY_OVERRIDE",
	} {
		os.Unsetenv(k)
	}
}

var _ = Describe("Load", func() {
	BeforeEach(clearEnv)
	AfterEach(clearEnv)

	Context("with all required variables set", func() {
		It("returns a valid config with defaults applied", func() {
			setRequiredEnv()

			cfg, err := Load()

			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.ScheduleCron).To(Equal("0 3 * * *"))
			Expect(cfg.SafetyLevel).To(Equal(SafetyModerate))
			Expect(cfg.LogLevel).To(Equal("info"))
			Expect(cfg.ConcurrencyCap).To(Equal(4))
			Expect(cfg.EventFetchWindowDays).To(Equal(30))
		})
	})

	Context("missing a required variable", func() {
		It("fails validation", func() {
			setRequiredEnv()
			os.Unsetenv("DATABASE_URL")

			_, err := Load()

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("invalid configuration"))
		})
	})

	Context("SAFETY_LEVEL is not one of the known values", func() {
		It("fails validation", func() {
			setRequiredEnv()
			os.Setenv("SAFETY_LEVEL", "yolo")

			_, err := Load()

			Expect(err).To(HaveOccurred())
		})
	})

	Context("strict safety level with override allowed", func() {
		It("is rejected as a contradictory configuration", func() {
			setRequiredEnv()
			os.Setenv("SAFETY_LEVEL", "strict")
			os.Setenv("ALLOW_SAFETY_OVERRIDE", "true")

			_, err := Load()

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("ALLOW_SAFETY_OVERRIDE"))
		})
	})
})
