package relevance

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/asoloa/ambot/internal/knowledgebase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestBuildContext_AboutAndPortfolioVerbatim(t *testing.T) {
	kb := knowledgebase.Default()
	for _, q := range []string{"???", "What certifications does Sol have?", "What technologies does Sol use?"} {
		ctx := BuildContext(q, kb)
		assert.Same(t, kb.About, ctx.About, q)
		assert.Equal(t, kb.Portfolio, ctx.Portfolio, q)
	}
}

func TestBuildContext_NonsenseTakesFallback(t *testing.T) {
	kb := knowledgebase.Default()
	ctx := BuildContext("???", kb)

	assert.Zero(t, ctx.Keywords.Len())
	require.True(t, ctx.Fallback())
	assert.Empty(t, ctx.Scores)
	assert.Equal(t, kb.Tools()[:DefaultFallbackTechnologies], ctx.Summary.Technologies)
	assert.Len(t, ctx.Summary.Experiences, len(kb.Experiences))
	assert.Equal(t, []string{"about", "portfolio", "certifications", "experiences", "technologies"}, ctx.Keys())

	out, err := ctx.Serialize()
	require.NoError(t, err)
	assert.True(t, gjson.Valid(out))
	assert.Len(t, gjson.Get(out, "technologies").Array(), DefaultFallbackTechnologies)
	first := gjson.Get(out, "experiences.0").Map()
	assert.Len(t, first, 3)
	assert.Equal(t, kb.Experiences[0].Company, first["company"].String())
	assert.Equal(t, kb.Experiences[0].Position, first["position"].String())
	assert.Equal(t, kb.Experiences[0].Period, first["period"].String())
	assert.Equal(t, kb.Certifications[0].Certification, gjson.Get(out, "certifications.0").String())
}

func TestBuildContext_TechnologiesTrigger(t *testing.T) {
	kb := knowledgebase.Default()
	ctx := BuildContext("What technologies does Sol use?", kb)

	assert.False(t, ctx.Fallback())
	assert.Equal(t, kb.Tools(), ctx.Technologies)
	assert.Equal(t, len(kb.Tools()), ctx.Len(knowledgebase.SectionTechnologies))
	assert.Contains(t, ctx.Keys(), knowledgebase.SectionTechnologies)
}

func TestBuildContext_AIProjects(t *testing.T) {
	kb := knowledgebase.Default()
	ctx := BuildContext("What AI projects has Sol built?", kb)

	for _, k := range []string{"projects", "project", "portfolio", "built", "work"} {
		assert.True(t, ctx.Keywords.Has(k), k)
	}
	assert.NotContains(t, ctx.Keys(), knowledgebase.SectionTechnologies)
	assert.Nil(t, ctx.Technologies)

	// Portfolio keeps knowledgebase order, which lists the AI projects first.
	require.Len(t, ctx.Portfolio, len(kb.Portfolio))
	for i := 0; i < 3; i++ {
		assert.Contains(t, ctx.Portfolio[i].Keywords, "ai")
	}
	assert.NotContains(t, ctx.Portfolio[3].Keywords, "ai")
}

func TestBuildContext_ScoredSections(t *testing.T) {
	kb := knowledgebase.Default()

	ctx := BuildContext("Where did Sol work recently?", kb)
	require.NotEmpty(t, ctx.Experiences)
	assert.True(t, strings.HasPrefix(ctx.Experiences[0].Company, "WeServ"))
	assert.False(t, ctx.Fallback())
	scores := ctx.Scores[knowledgebase.SectionExperiences]
	for i := 1; i < len(scores); i++ {
		assert.GreaterOrEqual(t, scores[i-1], scores[i])
	}

	ctx = BuildContext("Where did Sol go to school?", kb)
	assert.Len(t, ctx.Education, 1)
}

func TestBuildContext_OmitsUnmatchedSections(t *testing.T) {
	kb := knowledgebase.Default()
	ctx := BuildContext("Where did you go to school?", kb)

	require.False(t, ctx.Fallback())
	assert.Equal(t, []string{"about", "portfolio", "education"}, ctx.Keys())
	assert.Nil(t, ctx.Certifications)
	assert.Nil(t, ctx.Experiences)
	assert.Nil(t, ctx.Services)
	assert.NotContains(t, ctx.Scores, knowledgebase.SectionCertifications)

	out, err := ctx.Serialize()
	require.NoError(t, err)
	for _, section := range []string{"services", "certifications", "experiences", "technologies"} {
		assert.False(t, gjson.Get(out, section).Exists(), section)
	}
	assert.True(t, gjson.Get(out, "education").IsArray())
}

func TestBuildContext_SingleSectionTakesFallback(t *testing.T) {
	kb := &knowledgebase.Knowledgebase{
		Certifications: []knowledgebase.Certification{
			{Certification: "AWS Certified Cloud Practitioner", Period: "JUN 2019"},
			{Certification: "Terraform Associate", Period: "MAR 2021"},
		},
		Experiences: []knowledgebase.Experience{
			{Company: "Acme", Position: "Engineer", Period: "2020", Description: []string{"built pipelines"}},
		},
	}

	ctx := BuildContext("practitioner", kb)
	require.True(t, ctx.Fallback())
	assert.Equal(t, []string{"certifications", "experiences"}, ctx.Keys())
	assert.Equal(t, []string{"AWS Certified Cloud Practitioner", "Terraform Associate"}, ctx.Summary.Certifications)

	out, err := ctx.Serialize()
	require.NoError(t, err)
	assert.Equal(t, "Terraform Associate", gjson.Get(out, "certifications.1").String())
	assert.Equal(t, "Acme", gjson.Get(out, "experiences.0.company").String())
	assert.False(t, gjson.Get(out, "experiences.0.description").Exists())

	// Two scored sections are enough context on their own.
	ctx = BuildContext("practitioner pipelines", kb)
	assert.False(t, ctx.Fallback())
	assert.Equal(t, []string{"certifications", "experiences"}, ctx.Keys())
}

func TestBuildContext_SectionCap(t *testing.T) {
	kb := &knowledgebase.Knowledgebase{About: &knowledgebase.About{Name: "Jane"}}
	for i := 0; i < 8; i++ {
		kb.Certifications = append(kb.Certifications, knowledgebase.Certification{
			Certification: fmt.Sprintf("Cert %d", i),
			Keywords:      []string{"aws"},
		})
	}
	// One entry scores higher and must move to the front.
	kb.Certifications[6].Certification = "AWS AWS"

	ctx := BuildContext("aws", kb)
	require.Len(t, ctx.Certifications, DefaultMaxPerSection)
	assert.Equal(t, "AWS AWS", ctx.Certifications[0].Certification)
	// Ties keep knowledgebase order.
	assert.Equal(t, "Cert 0", ctx.Certifications[1].Certification)
	assert.Equal(t, "Cert 3", ctx.Certifications[4].Certification)
	assert.Nil(t, ctx.Technologies)

	small := NewBuilder(WithMaxPerSection(2)).Build("aws", kb)
	assert.Len(t, small.Certifications, 2)
}

func TestBuildContext_EveryScoredSectionCapped(t *testing.T) {
	kb := knowledgebase.Default()
	for _, q := range []string{"aws cloud certification", "work job experience", "school degree"} {
		ctx := BuildContext(q, kb)
		for _, section := range []string{
			knowledgebase.SectionServices, knowledgebase.SectionCertifications,
			knowledgebase.SectionEducation, knowledgebase.SectionExperiences,
		} {
			assert.LessOrEqual(t, ctx.Len(section), DefaultMaxPerSection, "%s / %s", q, section)
		}
	}
}

func TestBuildContext_NilKnowledgebase(t *testing.T) {
	ctx := BuildContext("anything", nil)
	assert.Empty(t, ctx.Keys())
	out, err := ctx.Serialize()
	require.NoError(t, err)
	assert.Equal(t, "{}", out)
}

func TestBuilder_Options(t *testing.T) {
	kb := knowledgebase.Default()
	b := NewBuilder(WithFallbackTechnologies(3), WithTriggerPhrases("gadget"))

	assert.Len(t, b.Build("???", kb).Summary.Technologies, 3)
	assert.Nil(t, b.Build("What technologies does Sol use?", kb).Technologies)
	assert.NotNil(t, b.Build("any gadget?", kb).Technologies)
}

func TestContext_MarshalJSON(t *testing.T) {
	kb := &knowledgebase.Knowledgebase{
		About:     &knowledgebase.About{Name: "Jane & Co"},
		Portfolio: []knowledgebase.Project{{Title: "<Widget>"}},
	}
	ctx := BuildContext("???", kb)
	out, err := ctx.Serialize()
	require.NoError(t, err)
	assert.Contains(t, out, "Jane & Co")
	assert.Contains(t, out, "<Widget>")

	data, err := json.Marshal(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Jane & Co", gjson.GetBytes(data, "about.name").String())
	assert.Equal(t, []string{"about", "portfolio"}, ctx.Keys())
}
