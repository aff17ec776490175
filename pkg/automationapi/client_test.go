package automationapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/homelab-ai/smarthome-analyzer/internal/apperrors"
)

func TestAutomationAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Automation API Client Suite")
}

var testLog = logrus.NewEntry(logrus.New())

var _ = Describe("Client.ListAutomations", func() {
	It("decodes the automation config and extracts trigger/action entities", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/api/config/automation/config"))
			Expect(r.Header.Get("Authorization")).To(Equal("Bearer tok123"))
			json.NewEncoder(w).Encode([]map[string]any{
				{
					"id":    "auto1",
					"alias": "Hallway at dusk",
					"trigger": []map[string]any{
						{"entity_id": "sun.sun"},
					},
					"action": []map[string]any{
						{"entity_id": "light.hall"},
					},
				},
			})
		}))
		defer server.Close()

		c := New(server.URL, "tok123", testLog)
		automations, err := c.ListAutomations(context.Background())

		Expect(err).ToNot(HaveOccurred())
		Expect(automations).To(HaveLen(1))
		Expect(automations[0].Alias).To(Equal("Hallway at dusk"))
		Expect(automations[0].TriggerEntity).To(Equal("sun.sun"))
		Expect(automations[0].ActionEntity).To(Equal("light.hall"))
	})
})

var _ = Describe("Client.ReloadAutomations", func() {
	It("posts to the reload endpoint", func() {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			Expect(r.Method).To(Equal(http.MethodPost))
			Expect(r.URL.Path).To(Equal("/api/services/automation/reload"))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		c := New(server.URL, "", testLog)
		Expect(c.ReloadAutomations(context.Background())).To(Succeed())
		Expect(calls).To(Equal(1))
	})
})

var _ = Describe("Client.CallService", func() {
	It("rejects an unsupported service without making a request", func() {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
		}))
		defer server.Close()

		c := New(server.URL, "", testLog)
		err := c.CallService(context.Background(), "delete_everything", "light.hall")
		Expect(err).To(HaveOccurred())
		Expect(calls).To(Equal(0))
	})

	It("posts turn_on for a known service", func() {
		var gotBody map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/api/services/automation/turn_on"))
			json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		c := New(server.URL, "", testLog)
		Expect(c.CallService(context.Background(), "turn_on", "light.hall")).To(Succeed())
		Expect(gotBody["entity_id"]).To(Equal("light.hall"))
	})
})

var _ = Describe("Client.State", func() {
	It("returns a not-found error without retrying for an unknown entity", func() {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		c := New(server.URL, "", testLog)
		_, err := c.State(context.Background(), "light.missing")

		Expect(apperrors.Is(err, apperrors.KindNotFound)).To(BeTrue())
		Expect(calls).To(Equal(1))
	})
})
