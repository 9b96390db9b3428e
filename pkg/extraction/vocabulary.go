package extraction

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Vocabulary is the rule model's term set. It is intentionally a safe
// list: only terms present here are ever extracted.
type Vocabulary struct {
	Symptoms    []string `yaml:"symptoms"`
	Medications []string `yaml:"medications"`
}

// LoadVocabulary reads a vocabulary file, falling back to the built-in
// set when path is empty.
func LoadVocabulary(path string) (Vocabulary, error) {
	if path == "" {
		return DefaultVocabulary(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Vocabulary{}, err
	}

	var vocab Vocabulary
	if err := yaml.Unmarshal(content, &vocab); err != nil {
		return Vocabulary{}, err
	}
	if len(vocab.Symptoms) == 0 {
		vocab.Symptoms = DefaultVocabulary().Symptoms
	}
	if len(vocab.Medications) == 0 {
		vocab.Medications = DefaultVocabulary().Medications
	}
	return vocab, nil
}

func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Symptoms: []string{
			"headache", "chest pain", "nausea", "dizziness", "fatigue",
			"fever", "breathlessness", "cough", "sore throat", "vomiting",
			"abdominal pain", "back pain", "joint pain", "muscle pain",
			"shortness of breath", "palpitations", "sweating", "chills",
		},
		Medications: []string{
			"metformin", "aspirin", "paracetamol", "acetaminophen",
			"ibuprofen", "lisinopril", "amlodipine", "omeprazole",
			"levothyroxine", "atorvastatin", "losartan", "metoprolol",
			"albuterol", "insulin", "warfarin", "clopidogrel",
			"prednisone", "amoxicillin", "azithromycin",
		},
	}
}
