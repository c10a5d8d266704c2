// Package parallel - Wrapper fuer Mehr-Geraete- und Mehr-Prozess-Ausfuehrung
//
// Beide Wrapper sind Dekoratoren ueber jedem Batched-Modul: sie behalten die
// Forward-Signatur bei und legen das Modul unter dem Parameter-Praefix
// "module" ab, wie torch.nn.DataParallel und DistributedDataParallel.
//
// Hauptkomponenten:
// - Batched: Vertrag fuer Module mit Batch-Forward
// - DataParallel: Verteilt einen Batch auf mehrere Geraete eines Prozesses
// - DistributedDataParallel: Synchronisiert Parameter von Rang 0
package parallel

import (
	"context"

	"github.com/clbt/clbt/ml/nn"
)

// Batched ist ein Modul, das einen Batch unabhaengiger Eingaben verarbeitet.
// Die i-te Ausgabe gehoert zur i-ten Eingabe.
type Batched[I, O any] interface {
	nn.Module
	Forward(ctx context.Context, batch []I) ([]O, error)
}

// Wrapper ist ein Dekorator um ein Batched-Modul
type Wrapper interface {
	nn.Module
	Unwrap() nn.Module
}

// Unwrap entfernt alle Wrapper-Schichten
func Unwrap(m nn.Module) nn.Module {
	for {
		w, ok := m.(Wrapper)
		if !ok {
			return m
		}
		m = w.Unwrap()
	}
}
