package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danl5/gomember/pkg/dispatch"
)

var (
	outputPath = flag.String("o", "./fsm_visual", "output path")
)

func main() {
	flag.Parse()

	f, err := os.OpenFile(*outputPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	_, err = f.WriteString(dispatch.Visualize())
	if err != nil {
		panic(err)
	}

	fmt.Println("Visualization finished")
}
