/*
Copyright 2025 The ktfsos Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command mkktfs builds a KTFS disk image from a flat directory of files.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"ktfsos/pkg/ktfsimage"
)

func main() {
	srcDir := flag.String("dir", "", "source directory (one level, flat namespace)")
	outPath := flag.String("out", "", "output image path")
	flag.Parse()

	if *srcDir == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: mkktfs -dir=SRCDIR -out=IMAGE")
		os.Exit(2)
	}

	entries, err := os.ReadDir(*srcDir)
	if err != nil {
		log.Fatalf("read %s: %v", *srcDir, err)
	}

	files := make(map[string][]byte)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(*srcDir, e.Name()))
		if err != nil {
			log.Fatalf("read %s: %v", e.Name(), err)
		}
		files[e.Name()] = content
	}

	img, err := ktfsimage.Build(files)
	if err != nil {
		log.Fatalf("build image: %v", err)
	}

	if err := os.WriteFile(*outPath, img, 0644); err != nil {
		log.Fatalf("write %s: %v", *outPath, err)
	}
	log.Printf("wrote %s (%d files, %s)", *outPath, len(files), humanize.Bytes(uint64(len(img))))
}
