package services

import "errors"

var (
	// ErrEqualPreference: beide Seiten eines Links haben dasselbe Rating, die Richtung ist mehrdeutig.
	ErrEqualPreference = errors.New("equal preference rating")
	// ErrUnknownSource: eine Link-Seite gehört zu keiner konfigurierten Quelle.
	ErrUnknownSource = errors.New("unknown source")
	// ErrCascadeNotConverged ist fatal: die Präferenzkette enthält einen Zyklus.
	ErrCascadeNotConverged = errors.New("cascade did not reach a fixed point")
	// ErrParentStudyUnresolved: ein Objekt verweist auf eine Studie ohne kanonische ID.
	ErrParentStudyUnresolved = errors.New("parent study not resolved")
	// ErrRunInProgress: es läuft bereits eine Aggregation.
	ErrRunInProgress = errors.New("aggregation run already in progress")
)
