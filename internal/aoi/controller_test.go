package aoi

import (
	"errors"
	"testing"

	"geoanalysis-desktop/internal/analysis"
)

func squareRings() [][][]float64 {
	return [][][]float64{{
		{-60.0, -5.0}, {-60.0, -4.0}, {-59.0, -4.0}, {-59.0, -5.0}, {-60.0, -5.0},
	}}
}

func TestNewControllerStartsInDefault(t *testing.T) {
	ctrl := NewController()

	if ctrl.Mode() != ModeDefault {
		t.Errorf("Expected default mode, got %s", ctrl.Mode())
	}
	if _, ok := ctrl.Feature(); ok {
		t.Error("Expected no feature initially")
	}
	if _, ok := ctrl.Pending(); ok {
		t.Error("Expected no pending request initially")
	}
}

func TestCompleteDrawEntersPendingAnalysis(t *testing.T) {
	ctrl := NewController()
	ctrl.SwitchToDraw()

	if ctrl.Mode() != ModeDrawing {
		t.Fatalf("Expected drawing mode, got %s", ctrl.Mode())
	}

	replaced := ctrl.CompleteDraw(NewPolygonFeature(squareRings()), analysis.KindNDVI)
	if replaced != nil {
		t.Errorf("Expected no replaced feature on first draw, got %s", replaced.ID)
	}
	if ctrl.Mode() != ModePendingAnalysis {
		t.Errorf("Expected pending-analysis mode, got %s", ctrl.Mode())
	}

	pending, ok := ctrl.Pending()
	if !ok {
		t.Fatal("Expected a pending request after draw")
	}
	if pending.Status != StatusIdle {
		t.Errorf("Expected idle status, got %s", pending.Status)
	}
}

// Drawing a second feature must clear the first one before the new one
// becomes pending.
func TestSecondDrawReplacesFirst(t *testing.T) {
	ctrl := NewController()
	ctrl.SwitchToDraw()

	first := NewPolygonFeature(squareRings())
	ctrl.CompleteDraw(first, analysis.KindNDVI)

	second := NewPointFeature(-62.0, -3.0)
	replaced := ctrl.CompleteDraw(second, analysis.KindNDVI)

	if replaced == nil || replaced.ID != first.ID {
		t.Fatal("Expected the first feature to be reported as replaced")
	}

	current, ok := ctrl.Feature()
	if !ok || current.ID != second.ID {
		t.Error("Expected the second feature to be the only one present")
	}

	pending, ok := ctrl.Pending()
	if !ok || pending.FeatureID != second.ID {
		t.Error("Expected pending request to track the second feature")
	}
}

func TestBeginAnalysisOnlyWhenPending(t *testing.T) {
	ctrl := NewController()

	if _, ok := ctrl.BeginAnalysis(analysis.KindNDVI); ok {
		t.Error("BeginAnalysis must be a no-op in default mode")
	}

	ctrl.SwitchToDraw()
	if _, ok := ctrl.BeginAnalysis(analysis.KindNDVI); ok {
		t.Error("BeginAnalysis must be a no-op in drawing mode")
	}

	ctrl.CompleteDraw(NewPolygonFeature(squareRings()), analysis.KindNDVI)
	feature, ok := ctrl.BeginAnalysis(analysis.KindNDVI)
	if !ok {
		t.Fatal("Expected BeginAnalysis to succeed in pending-analysis mode")
	}

	pending, _ := ctrl.Pending()
	if pending.Status != StatusLoading {
		t.Errorf("Expected loading status, got %s", pending.Status)
	}
	if pending.FeatureID != feature.ID {
		t.Error("Expected pending request to track the analyzed feature")
	}
}

func TestFinishAnalysisSuccess(t *testing.T) {
	ctrl := NewController()
	ctrl.SwitchToDraw()
	ctrl.CompleteDraw(NewPolygonFeature(squareRings()), analysis.KindLST)

	feature, _ := ctrl.BeginAnalysis(analysis.KindLST)
	if !ctrl.FinishAnalysis(feature.ID, nil) {
		t.Fatal("Expected FinishAnalysis to apply")
	}

	if ctrl.Mode() != ModeAnalyzed {
		t.Errorf("Expected analyzed mode, got %s", ctrl.Mode())
	}
	pending, _ := ctrl.Pending()
	if pending.Status != StatusSuccess {
		t.Errorf("Expected success status, got %s", pending.Status)
	}
}

func TestFinishAnalysisErrorReturnsToPending(t *testing.T) {
	ctrl := NewController()
	ctrl.SwitchToDraw()
	ctrl.CompleteDraw(NewPolygonFeature(squareRings()), analysis.KindNDVI)

	feature, _ := ctrl.BeginAnalysis(analysis.KindNDVI)
	ctrl.FinishAnalysis(feature.ID, errors.New("server failure"))

	if ctrl.Mode() != ModePendingAnalysis {
		t.Errorf("Expected pending-analysis mode after failure, got %s", ctrl.Mode())
	}
	pending, _ := ctrl.Pending()
	if pending.Status != StatusError {
		t.Errorf("Expected error status, got %s", pending.Status)
	}
	if pending.Err == "" {
		t.Error("Expected the error message to be recorded")
	}
}

// A completion arriving after its feature was replaced must be ignored.
func TestFinishAnalysisIgnoresStaleFeature(t *testing.T) {
	ctrl := NewController()
	ctrl.SwitchToDraw()

	first := NewPolygonFeature(squareRings())
	ctrl.CompleteDraw(first, analysis.KindNDVI)
	ctrl.BeginAnalysis(analysis.KindNDVI)

	second := NewPolygonFeature(squareRings())
	ctrl.CompleteDraw(second, analysis.KindNDVI)

	if ctrl.FinishAnalysis(first.ID, nil) {
		t.Error("Expected stale completion to be ignored")
	}
	if ctrl.Mode() != ModePendingAnalysis {
		t.Errorf("Expected the new feature to stay pending, got %s", ctrl.Mode())
	}
}

func TestSwitchToDefaultClearsEverything(t *testing.T) {
	ctrl := NewController()
	ctrl.SwitchToDraw()

	feature := NewPolygonFeature(squareRings())
	ctrl.CompleteDraw(feature, analysis.KindNDVI)

	cleared := ctrl.SwitchToDefault()
	if cleared == nil || cleared.ID != feature.ID {
		t.Error("Expected the drawn feature to be reported as cleared")
	}
	if ctrl.Mode() != ModeDefault {
		t.Errorf("Expected default mode, got %s", ctrl.Mode())
	}
	if _, ok := ctrl.Feature(); ok {
		t.Error("Expected no feature after switching to default")
	}
	if _, ok := ctrl.Pending(); ok {
		t.Error("Expected no pending request after switching to default")
	}
}

// Draw, analyze, clear, draw again: the second cycle must start fresh with
// no residual state from the first feature.
func TestDrawAnalyzeClearDrawRoundTrip(t *testing.T) {
	ctrl := NewController()

	ctrl.SwitchToDraw()
	first := NewPolygonFeature(squareRings())
	ctrl.CompleteDraw(first, analysis.KindNDVI)
	f, _ := ctrl.BeginAnalysis(analysis.KindNDVI)
	ctrl.FinishAnalysis(f.ID, nil)

	ctrl.SwitchToDefault()

	ctrl.SwitchToDraw()
	second := NewPolygonFeature(squareRings())
	ctrl.CompleteDraw(second, analysis.KindNDVI)

	if ctrl.Mode() != ModePendingAnalysis {
		t.Errorf("Expected fresh pending-analysis state, got %s", ctrl.Mode())
	}

	pending, ok := ctrl.Pending()
	if !ok {
		t.Fatal("Expected a pending request for the second feature")
	}
	if pending.FeatureID != second.ID {
		t.Error("Pending request must track the second feature, not the first")
	}
	if pending.Status != StatusIdle || pending.Err != "" {
		t.Error("Expected a clean idle request with no residual error")
	}
}

func TestRequireReanalysis(t *testing.T) {
	ctrl := NewController()

	if ctrl.RequireReanalysis(analysis.KindLST) {
		t.Error("Expected no reanalysis without a feature")
	}

	ctrl.SwitchToDraw()
	ctrl.CompleteDraw(NewPolygonFeature(squareRings()), analysis.KindNDVI)
	f, _ := ctrl.BeginAnalysis(analysis.KindNDVI)
	ctrl.FinishAnalysis(f.ID, nil)

	if !ctrl.RequireReanalysis(analysis.KindLST) {
		t.Fatal("Expected reanalysis to be accepted with an analyzed feature")
	}
	if ctrl.Mode() != ModePendingAnalysis {
		t.Errorf("Expected pending-analysis mode, got %s", ctrl.Mode())
	}

	pending, _ := ctrl.Pending()
	if pending.Kind != analysis.KindLST {
		t.Errorf("Expected pending request for lst, got %s", pending.Kind)
	}
	if pending.Status != StatusIdle {
		t.Errorf("Expected idle status, got %s", pending.Status)
	}
}
