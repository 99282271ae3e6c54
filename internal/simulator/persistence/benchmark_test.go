package persistence

import (
	"path/filepath"
	"testing"

	"github.com/ffutop/instrlink/internal/simulator/model"
)

// BenchmarkMemoryStorage_OnWrite benchmarks the OnWrite hook for MemoryStorage.
func BenchmarkMemoryStorage_OnWrite(b *testing.B) {
	ms := NewMemoryStorage()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ms.OnWrite(model.FieldVoltage)
	}
}

func BenchmarkFileStorage_OnWrite(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench_file.bin")
	ms := NewFileStorage(path)
	p, err := ms.Load()
	if err != nil {
		b.Fatalf("Failed to load file storage: %v", err)
	}
	defer ms.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.SetFloat(model.FieldVoltage, float64(i))
		ms.OnWrite(model.FieldVoltage)
	}
}

// BenchmarkMmapStorage_OnWrite benchmarks the OnWrite hook for MmapStorage (msync).
func BenchmarkMmapStorage_OnWrite(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench_mmap.bin")
	ms := NewMmapStorage(path)
	p, err := ms.Load()
	if err != nil {
		b.Fatalf("Failed to load mmap storage: %v", err)
	}
	defer ms.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.SetFloat(model.FieldVoltage, float64(i))
		ms.OnWrite(model.FieldVoltage)
	}
}

func BenchmarkSQLStorage_OnWrite(b *testing.B) {
	ms := NewSQLStorage("sqlite3", filepath.Join(b.TempDir(), "bench.db"))
	p, err := ms.Load()
	if err != nil {
		b.Fatalf("Failed to load sql storage: %v", err)
	}
	defer ms.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.SetFloat(model.FieldVoltage, float64(i))
		ms.OnWrite(model.FieldVoltage)
	}
}

// BenchmarkMmapStorage_Load benchmarks the Load operation for MmapStorage.
// Note: This involves file open, fstat, and mmap system calls.
func BenchmarkMmapStorage_Load(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench_mmap_load.bin")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ms := NewMmapStorage(path)
		if _, err := ms.Load(); err != nil {
			b.Fatalf("Load failed: %v", err)
		}
		ms.Close()
	}
}

// BenchmarkPanel_Write benchmarks the pure in-memory write to Panel (baseline).
func BenchmarkPanel_Write(b *testing.B) {
	p := model.NewPanel()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.SetFloat(model.FieldVoltage, float64(i))
	}
}
