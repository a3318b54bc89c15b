package main

import (
	"Netlab/cmd"
	"Netlab/pkg"
	"log"
	"os"
	"os/signal"
	"syscall"
)

var lab *pkg.Lab

func main() {
	lab = pkg.NewLab()

	// Tear the topology down on SIGINT/SIGTERM too, so an aborted run
	// does not strand namespaces and veth devices on the host.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		lab.Destroy()
		os.Exit(1)
	}()

	if err := cmd.Execute(lab); err != nil {
		lab.Destroy()
		log.Fatal(err.Error())
	}
}
