// score_catalog.go scores a questionnaire export offline and prints the
// snapshot and mapping defects as JSON.
//
// Usage:
//
//	go run scripts/score_catalog.go -catalog catalog.yaml -project P
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/eeelify/Z-inspection-sub003/internal/catalog"
	"github.com/eeelify/Z-inspection-sub003/internal/scoring"
)

type catalogFile struct {
	ModelVersion string             `yaml:"model_version"`
	Questions    []catalog.Question `yaml:"questions"`
	Answers      []catalog.Answer   `yaml:"answers"`
}

type output struct {
	Snapshot       *scoring.Snapshot       `json:"snapshot"`
	Digest         string                  `json:"digest"`
	MappingDefects []catalog.MappingDefect `json:"mapping_defects"`
}

func main() {
	catalogPath := flag.String("catalog", "catalog.yaml", "path to the questions and answers export")
	projectID := flag.String("project", "", "project to score; empty scores every answer")
	strict := flag.Bool("strict", false, "exit non-zero when the catalog has mapping defects")
	flag.Parse()

	raw, err := os.ReadFile(*catalogPath)
	if err != nil {
		log.Fatalf("read catalog: %v", err)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(raw, &cf); err != nil {
		log.Fatalf("parse catalog: %v", err)
	}
	if err := catalog.ValidateAll(cf.Questions); err != nil {
		log.Fatalf("validate catalog: %v", err)
	}
	if cf.ModelVersion == "" {
		cf.ModelVersion = "offline"
	}

	answers := cf.Answers
	if *projectID != "" {
		answers = answers[:0:0]
		for _, a := range cf.Answers {
			if a.ProjectID == *projectID {
				answers = append(answers, a)
			}
		}
	}

	snap := scoring.BuildSnapshot(scoring.SnapshotInput{
		ProjectID:    *projectID,
		ModelVersion: cf.ModelVersion,
		Questions:    cf.Questions,
		Answers:      answers,
	})
	digest, err := snap.Digest()
	if err != nil {
		log.Fatalf("digest snapshot: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output{Snapshot: snap, Digest: digest, MappingDefects: snap.Quality.MappingDefects}); err != nil {
		log.Fatalf("encode: %v", err)
	}
	if *strict && len(snap.Quality.MappingDefects) > 0 {
		os.Exit(2)
	}
}
