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

// Command ktfscat opens the full stack (storage -> cache -> KTFS mount)
// against an image file and prints a named file's content to stdout: the
// end-to-end demonstration of the whole read path.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dustin/go-humanize"

	"ktfsos/pkg/blockcache"
	"ktfsos/pkg/ioh"
	"ktfsos/pkg/ktfs"
	"ktfsos/pkg/storage/filedisk"
)

func main() {
	imagePath := flag.String("image", "", "path to a KTFS disk image")
	name := flag.String("file", "", "file name to read")
	flag.Parse()

	if *imagePath == "" || *name == "" {
		fmt.Fprintln(os.Stderr, "usage: ktfscat -image=FILE -file=NAME")
		os.Exit(2)
	}

	dev, err := filedisk.Open(*imagePath, blockcache.BlockSize)
	if err != nil {
		log.Fatalf("open image: %v", err)
	}
	if err := dev.Open(); err != nil {
		log.Fatalf("open device: %v", err)
	}
	defer dev.Close()

	cache, err := blockcache.New(dev)
	if err != nil {
		log.Fatalf("new cache: %v", err)
	}

	fs, err := ktfs.Mount(cache)
	if err != nil {
		log.Fatalf("mount ktfs: %v", err)
	}

	h, err := fs.Open(*name)
	if err != nil {
		log.Fatalf("open %s: %v", *name, err)
	}
	defer h.Close()

	var end int64
	if err := h.Control(ioh.GetEnd, &end); err == nil {
		log.Printf("%s: %s", *name, humanize.Bytes(uint64(end)))
	}

	buf := make([]byte, 4096)
	for {
		n, err := h.Read(buf)
		if n > 0 {
			if _, werr := os.Stdout.Write(buf[:n]); werr != nil {
				log.Fatalf("write stdout: %v", werr)
			}
		}
		if err != nil && err != io.EOF {
			log.Fatalf("read %s: %v", *name, err)
		}
		if n == 0 {
			break
		}
	}
}
