package classify

// Category labels form the fixed controlled vocabulary the model must choose
// from. LabelUnclassified (in pubrecord) is the degradation sentinel and is
// never offered to the model.
const (
	LabelLifeSciences     = "life-sciences"
	LabelHealthSciences   = "health-sciences"
	LabelPhysicalSciences = "physical-sciences"
	LabelMathematics      = "mathematics"
	LabelComputerScience  = "computer-science"
	LabelEngineering      = "engineering"
	LabelSocialSciences   = "social-sciences"
	LabelHumanities       = "humanities"
	LabelBusiness         = "business"
	LabelEducation        = "education"
	LabelArts             = "arts"
)

// AllowedLabels is the enumerated label set, in prompt order.
var AllowedLabels = []string{
	LabelLifeSciences,
	LabelHealthSciences,
	LabelPhysicalSciences,
	LabelMathematics,
	LabelComputerScience,
	LabelEngineering,
	LabelSocialSciences,
	LabelHumanities,
	LabelBusiness,
	LabelEducation,
	LabelArts,
}

var allowedSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(AllowedLabels))
	for _, l := range AllowedLabels {
		m[l] = struct{}{}
	}
	return m
}()

// LabelAllowed reports whether the label is in the controlled vocabulary.
func LabelAllowed(label string) bool {
	_, ok := allowedSet[label]
	return ok
}
