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

// Command ktfsmount exposes a mounted KTFS image as a real, OS-visible
// read-only FUSE filesystem. It reuses the same ktfs.Mount plumbing as
// ktfscat; KTFS's own non-goal of directory listing carries through here
// as ReadDirAll returning fuse.ENOSYS, so `cat` and `open` on a known name
// work but `ls` on the mountpoint shows nothing, exactly as the rest of
// this stack never implements directory listing.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"

	"ktfsos/pkg/blockcache"
	"ktfsos/pkg/ioh"
	"ktfsos/pkg/ktfs"
	"ktfsos/pkg/storage/filedisk"
)

func main() {
	imagePath := flag.String("image", "", "path to a KTFS disk image")
	mountpoint := flag.String("mountpoint", "", "directory to mount at")
	flag.Parse()

	if *imagePath == "" || *mountpoint == "" {
		fmt.Fprintln(os.Stderr, "usage: ktfsmount -image=FILE -mountpoint=DIR")
		os.Exit(2)
	}

	dev, err := filedisk.Open(*imagePath, blockcache.BlockSize)
	if err != nil {
		log.Fatalf("open image: %v", err)
	}
	if err := dev.Open(); err != nil {
		log.Fatalf("open device: %v", err)
	}

	cache, err := blockcache.New(dev)
	if err != nil {
		log.Fatalf("new cache: %v", err)
	}
	mounted, err := ktfs.Mount(cache)
	if err != nil {
		log.Fatalf("mount ktfs: %v", err)
	}

	c, err := fuse.Mount(*mountpoint,
		fuse.FSName("ktfsos"),
		fuse.Subtype("ktfs"),
		fuse.ReadOnly(),
		fuse.VolumeName("ktfs"),
	)
	if err != nil {
		log.Fatalf("fuse mount: %v", err)
	}
	defer c.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Printf("unmounting %s", *mountpoint)
		fuse.Unmount(*mountpoint)
	}()

	log.Printf("serving %s at %s", *imagePath, *mountpoint)
	if err := fusefs.Serve(c, &fileSystem{ktfs: mounted}); err != nil {
		log.Fatalf("serve: %v", err)
	}

	<-c.Ready
	if err := c.MountError; err != nil {
		log.Fatalf("mount error: %v", err)
	}
}

// fileSystem is the bazil.org/fuse/fs.FS root.
type fileSystem struct {
	ktfs *ktfs.FS
}

func (f *fileSystem) Root() (fusefs.Node, error) {
	return &dirNode{ktfs: f.ktfs}, nil
}

// dirNode is the (single, flat) root directory. It supports Lookup by
// name but not enumeration, matching KTFS's own non-goal.
type dirNode struct {
	ktfs *ktfs.FS
}

func (d *dirNode) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | 0555
	return nil
}

func (d *dirNode) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	h, err := d.ktfs.Open(name)
	if err != nil {
		return nil, fuse.ENOENT
	}
	var end int64
	if cerr := h.Control(ioh.GetEnd, &end); cerr != nil {
		h.Close()
		return nil, fuse.EIO
	}
	return &fileNode{handle: h, size: end}, nil
}

func (d *dirNode) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	return nil, fuse.ENOSYS
}

// fileNode is an open KTFS file exposed as a read-only FUSE file.
type fileNode struct {
	handle *ioh.Handle
	size   int64
}

func (n *fileNode) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = 0444
	a.Size = uint64(n.size)
	return nil
}

// ReadAll satisfies fs.HandleReadAller: bazil.org/fuse calls it when a node
// doesn't implement the Open/Handle split, reading the whole file in one
// shot, which is all KTFS's sequential-cursor read needs to support.
func (n *fileNode) ReadAll(ctx context.Context) ([]byte, error) {
	if err := n.handle.Control(ioh.SetPos, int64(0)); err != nil {
		return nil, err
	}
	out := make([]byte, 0, n.size)
	buf := make([]byte, 4096)
	for int64(len(out)) < n.size {
		nread, err := n.handle.Read(buf)
		if err != nil {
			return nil, err
		}
		if nread == 0 {
			break
		}
		out = append(out, buf[:nread]...)
	}
	return out, nil
}
