package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/model"
)

func fullRecord() model.Record {
	r := model.Record{
		Name:         "Boulangerie Dupont",
		SearchedTerm: "boulangerie dupont paris",
		Status:       "Ouvert",
		Address:      "12 rue de la Paix, 75002 Paris",
		Hours:        "7h-20h",
		Phone:        "01 42 00 00 00",
		Phones:       []string{"01 42 00 00 00", "06 00 00 00 00"},
		Email:        "contact@dupont.fr",
		Emails:       []string{"contact@dupont.fr"},
		Socials:      map[string]string{"facebook": "https://facebook.com/dupont"},
		Website:      "https://dupont.fr",
		SourceURI:    "https://maps.example/dupont",
		Category:     "Boulangerie",
		DecisionMakers: []model.DecisionMaker{
			{Name: "Jeanne Dupont", Title: "Gérante", Email: "jeanne@dupont.fr"},
		},
		CustomField: "client VIP",
		Fingerprint: "WEB:dupont.fr",
	}
	r.Normalize()
	return r
}

func TestMerge_Idempotent(t *testing.T) {
	x := fullRecord()
	assert.Equal(t, x, Merge(x, x))

	empty := model.Record{}
	assert.Equal(t, empty, Merge(empty, empty))

	errRec := model.ErrorRecord("q", "boom")
	assert.Equal(t, errRec, Merge(errRec, errRec))
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	a := fullRecord()
	b := fullRecord()
	b.Phones = []string{"09 99 99 99 99"}
	b.Phone = "09 99 99 99 99"
	b.Socials = map[string]string{"instagram": "ig/dupont"}

	_ = Merge(a, b)

	assert.Equal(t, fullRecord(), a)
	assert.Equal(t, []string{"09 99 99 99 99"}, b.Phones)
}

func TestMerge_StatusPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		incoming string
		want     string
	}{
		{"positive kept over negative", "Ouvert", "Non trouvé", "Ouvert"},
		{"positive kept over positive", "Ouvert", "Fermé", "Ouvert"},
		{"error replaced", "Erreur", "Ouvert", "Ouvert"},
		{"not found replaced", "Non trouvé", "Fermé définitivement", "Fermé définitivement"},
		{"empty replaced", "", "Ouvert", "Ouvert"},
		{"negative not replaced by empty", "Erreur", "", "Erreur"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(model.Record{Status: tt.existing}, model.Record{Status: tt.incoming})
			assert.Equal(t, tt.want, got.Status)
		})
	}
}

func TestMerge_SentinelFields(t *testing.T) {
	existing := model.Record{Address: model.NoValue, Hours: "9h-18h"}
	incoming := model.Record{Address: "3 place Bellecour, Lyon", Hours: "10h-19h"}

	got := Merge(existing, incoming)
	assert.Equal(t, "3 place Bellecour, Lyon", got.Address)
	assert.Equal(t, "9h-18h", got.Hours)
}

func TestMerge_FirstNonEmptyWins(t *testing.T) {
	existing := model.Record{Website: "", Category: "Boulangerie", SourceURI: "", CustomField: ""}
	incoming := model.Record{Website: "https://dupont.fr", Category: "Pâtisserie", SourceURI: "https://src", CustomField: "note"}

	got := Merge(existing, incoming)
	assert.Equal(t, "https://dupont.fr", got.Website)
	assert.Equal(t, "Boulangerie", got.Category)
	assert.Equal(t, "https://src", got.SourceURI)
	assert.Equal(t, "note", got.CustomField)
}

func TestMerge_ContactSetsUnion(t *testing.T) {
	existing := model.Record{Phone: "01 42 00 00 00", Phones: []string{"01 42 00 00 00"}, Emails: []string{"a@dupont.fr"}, Email: "a@dupont.fr"}
	incoming := model.Record{Phone: "0142000000", Phones: []string{"0142000000", "06 11 11 11 11"}, Emails: []string{"A@dupont.fr", "b@dupont.fr"}, Email: "A@dupont.fr"}

	got := Merge(existing, incoming)
	assert.Equal(t, []string{"01 42 00 00 00", "06 11 11 11 11"}, got.Phones)
	assert.Equal(t, "01 42 00 00 00", got.Phone)
	assert.Equal(t, []string{"a@dupont.fr", "b@dupont.fr"}, got.Emails)
	assert.Equal(t, "a@dupont.fr", got.Email)
}

func TestMerge_NoDuplicateContacts(t *testing.T) {
	a := fullRecord()
	b := fullRecord()
	b.Phones = append(b.Phones, "07 00 00 00 00")
	got := Merge(Merge(a, b), b)

	seen := map[string]bool{}
	for _, p := range got.Phones {
		require.False(t, seen[p], "duplicate phone %s", p)
		seen[p] = true
	}
	assert.Len(t, got.Phones, 3)
}

func TestMerge_Socials(t *testing.T) {
	existing := model.Record{Socials: map[string]string{"facebook": "fb/old"}}
	incoming := model.Record{Socials: map[string]string{"facebook": "fb/new", "instagram": "ig/new"}}

	got := Merge(existing, incoming)
	assert.Equal(t, map[string]string{"facebook": "fb/old", "instagram": "ig/new"}, got.Socials)
}

func TestMerge_DecisionMakers(t *testing.T) {
	old := []model.DecisionMaker{{Name: "Jeanne"}}
	fresh := []model.DecisionMaker{{Name: "Paul", Title: "CEO"}}

	assert.Equal(t, fresh, Merge(model.Record{DecisionMakers: old}, model.Record{DecisionMakers: fresh}).DecisionMakers)
	assert.Equal(t, old, Merge(model.Record{DecisionMakers: old}, model.Record{}).DecisionMakers)
}

func TestMerge_CachedFlag(t *testing.T) {
	assert.True(t, Merge(model.Record{Cached: true}, model.Record{Cached: true}).Cached)
	assert.False(t, Merge(model.Record{Cached: true}, model.Record{}).Cached)
}

func TestMergeAt(t *testing.T) {
	results := []model.Record{{Name: "A", Status: "Erreur"}}

	results = MergeAt(results, 0, model.Record{Name: "A", Status: "Ouvert"})
	require.Len(t, results, 1)
	assert.Equal(t, "Ouvert", results[0].Status)

	results = MergeAt(results, 1, model.Record{Name: "B"})
	require.Len(t, results, 2)
	assert.Equal(t, "B", results[1].Name)

	results = MergeAt(results, 3, model.Record{Name: "D"})
	require.Len(t, results, 4)
	assert.Equal(t, model.StatusNotFound, results[2].Status)

	assert.Len(t, MergeAt(results, -1, model.Record{}), 4)
}
