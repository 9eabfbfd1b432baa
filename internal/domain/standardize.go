package domain

import (
	"strconv"
	"strings"
)

// genericSkills pads short skill lists so bundles keep their fixed shape.
var genericSkills = []string{
	"Communication", "Teamwork", "Problem solving", "Time management",
	"Adaptability", "Critical thinking", "Attention to detail", "Organization",
	"Leadership", "Collaboration", "Planning", "Documentation",
	"Analytical skills", "Creativity", "Self-motivation", "Prioritization",
	"Decision making", "Conflict resolution", "Active listening", "Reliability",
}

const genericResponsibility = "General professional responsibilities"

// FillerSkill substitutes an empty skill entry before embedding.
const FillerSkill = "General professional skills"

// FillerResponsibility substitutes an empty responsibility entry before embedding.
const FillerResponsibility = "General professional responsibilities"

// DefaultJobTitle is used when the standardizer could not determine a title.
const DefaultJobTitle = "Professional"

// ParseExperienceYears extracts a non-negative year count from free text.
// "5" -> 5, "3-5" -> 3, "Not specified" -> 0.
func ParseExperienceYears(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	// Take the leading integer; ranges use their lower bound.
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Normalize returns a copy with the canonical shape: non-empty title,
// non-negative experience, exactly SkillsCount skills and
// ResponsibilitiesCount responsibilities (padded or truncated).
func (s StandardizedInfo) Normalize() StandardizedInfo {
	out := s
	out.JobTitle = strings.TrimSpace(s.JobTitle)
	if out.JobTitle == "" {
		out.JobTitle = DefaultJobTitle
	}
	if out.ExperienceYears < 0 {
		out.ExperienceYears = 0
	}
	out.Skills = normalizeList(s.Skills, SkillsCount, genericSkills)
	out.Responsibilities = normalizeList(s.Responsibilities, ResponsibilitiesCount, nil)
	return out
}

func normalizeList(in []string, want int, pad []string) []string {
	out := make([]string, 0, want)
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
		if len(out) == want {
			return out
		}
	}
	for i := 0; len(out) < want; i++ {
		if pad != nil {
			out = append(out, pad[i%len(pad)])
		} else {
			out = append(out, genericResponsibility)
		}
	}
	return out
}
