// devinfo prints the CUDA devices visible to the process and the currently
// active one. Build with `-tags cuda`; without it the tool only reports that
// CUDA support was not compiled in.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/accelgo/devmem/cudart"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	count, err := cudart.DeviceCount()
	if err != nil {
		fmt.Fprintf(os.Stderr, "devinfo: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d CUDA device(s) visible\n", count)

	rt, err := cudart.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "devinfo: %v\n", err)
		os.Exit(1)
	}
	current, err := rt.CurrentDevice()
	if err != nil {
		fmt.Fprintf(os.Stderr, "devinfo: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("active device: %d\n", current.Value())
}
