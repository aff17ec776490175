package safety

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/homelab-ai/smarthome-analyzer/pkg/model"
)

func TestSafety(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Safety Validator Suite")
}

func knownEntities(ids ...string) EntityExists {
	known := map[string]bool{}
	for _, id := range ids {
		known[id] = true
	}
	return func(entityID string) bool { return known[entityID] }
}

var _ = Describe("Validator.Validate", func() {
	It("blocks a lock.unlock action with one critical dangerous issue (scenario 4)", func() {
		spec := model.AutomationSpec{
			Alias:   "unlock front door on arrival",
			Triggers: []map[string]any{{"platform": "state", "entity_id": "binary_sensor.front_motion"}},
			Actions:  []map[string]any{{"service": "lock.unlock", "entity_id": "lock.front_door"}},
		}

		v := NewValidator(knownEntities("binary_sensor.front_motion", "lock.front_door"))
		report := v.Validate(spec, nil, "", nil)

		Expect(report.Safe).To(BeFalse())
		Expect(report.Critical).To(HaveLen(1))
		Expect(report.Critical[0].Category).To(Equal(CategoryDangerous))
	})

	It("flags a missing validated entity as critical, with fuzzy-match suggestions", func() {
		spec := model.AutomationSpec{
			Triggers: []map[string]any{{"entity_id": "binary_sensor.office_desk_presence"}},
			Actions:  []map[string]any{{"service": "light.turn_on", "entity_id": "light.office"}},
		}

		v := NewValidator(knownEntities("light.office", "binary_sensor.office_desk"))
		report := v.Validate(spec, []string{"binary_sensor.office_desk_presence"}, "", nil)

		Expect(report.Safe).To(BeFalse())
		Expect(report.Critical).To(HaveLen(1))
		Expect(report.Critical[0].Category).To(Equal(CategoryAvailability))
		Expect(report.Critical[0].Details["suggestions"]).To(ConsistOf("binary_sensor.office_desk"))
	})

	It("flags a missing non-validated entity as a warning, not critical", func() {
		spec := model.AutomationSpec{
			Actions: []map[string]any{{"service": "light.turn_on", "entity_id": "light.missing"}},
		}

		v := NewValidator(knownEntities())
		report := v.Validate(spec, nil, "", nil)

		Expect(report.Safe).To(BeTrue())
		Expect(report.Warnings).To(HaveLen(1))
		Expect(report.Warnings[0].Category).To(Equal(CategoryAvailability))
	})

	It("warns on a high-energy climate action", func() {
		spec := model.AutomationSpec{
			Actions: []map[string]any{{"service": "climate.set_temperature", "entity_id": "climate.living_room"}},
		}

		v := NewValidator(knownEntities("climate.living_room"))
		report := v.Validate(spec, nil, "", nil)

		Expect(report.Safe).To(BeTrue())
		Expect(report.Warnings).To(HaveLen(1))
		Expect(report.Warnings[0].Category).To(Equal(CategoryEnergy))
	})

	It("warns on a time-conflict keyword in the alias", func() {
		spec := model.AutomationSpec{Alias: "run continuously through the night"}

		v := NewValidator(knownEntities())
		report := v.Validate(spec, nil, "", nil)

		Expect(report.Safe).To(BeTrue())
		Expect(report.Warnings).To(ContainElement(WithTransform(func(i Issue) Category { return i.Category }, Equal(CategoryTime))))
	})

	It("warns when the trigger/action pair matches an existing automation", func() {
		spec := model.AutomationSpec{
			Triggers: []map[string]any{{"entity_id": "binary_sensor.hall_motion"}},
			Actions:  []map[string]any{{"service": "light.turn_on", "entity_id": "light.hall"}},
		}
		existing := []model.Automation{{ID: "auto1", TriggerEntity: "binary_sensor.hall_motion", ActionEntity: "light.hall"}}

		v := NewValidator(knownEntities("binary_sensor.hall_motion", "light.hall"))
		report := v.Validate(spec, nil, "", existing)

		Expect(report.Safe).To(BeTrue())
		Expect(report.Warnings).To(ContainElement(WithTransform(func(i Issue) Category { return i.Category }, Equal(CategoryConflict))))
	})

	It("does not flag a conflict against the automation's own ID", func() {
		spec := model.AutomationSpec{
			Triggers: []map[string]any{{"entity_id": "binary_sensor.hall_motion"}},
			Actions:  []map[string]any{{"service": "light.turn_on", "entity_id": "light.hall"}},
		}
		existing := []model.Automation{{ID: "auto1", TriggerEntity: "binary_sensor.hall_motion", ActionEntity: "light.hall"}}

		v := NewValidator(knownEntities("binary_sensor.hall_motion", "light.hall"))
		report := v.Validate(spec, nil, "auto1", existing)

		Expect(report.Warnings).To(BeEmpty())
	})
})

var _ = Describe("ParseSpec", func() {
	It("rejects empty YAML as a critical invalid issue", func() {
		_, report := ParseSpec("")
		Expect(report).ToNot(BeNil())
		Expect(report.Safe).To(BeFalse())
		Expect(report.Critical[0].Category).To(Equal(CategoryInvalid))
	})

	It("parses a well-formed automation into an AutomationSpec", func() {
		yamlText := `
alias: hall motion light
trigger:
  - platform: state
    entity_id: binary_sensor.hall_motion
action:
  - service: light.turn_on
    entity_id: light.hall
`
		spec, report := ParseSpec(yamlText)
		Expect(report).To(BeNil())
		Expect(spec.Alias).To(Equal("hall motion light"))
		Expect(spec.Triggers).To(HaveLen(1))
		Expect(spec.Actions).To(HaveLen(1))
	})
})
