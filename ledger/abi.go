package ledger

// ContractABI is the interface of the deployed health-records contract. It is
// fixed by the deployment and must not be edited to suit the client.
const ContractABI = `[
  {"inputs":[],"stateMutability":"nonpayable","type":"constructor"},
  {"anonymous":false,"inputs":[{"indexed":false,"internalType":"address","name":"patient","type":"address"},{"indexed":false,"internalType":"address","name":"doctor","type":"address"}],"name":"AccessGranted","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":false,"internalType":"address","name":"patient","type":"address"},{"indexed":false,"internalType":"address","name":"doctor","type":"address"}],"name":"AccessRevoked","type":"event"},
  {"inputs":[{"internalType":"uint16","name":"bloodPressureSystolic","type":"uint16"},{"internalType":"uint16","name":"bloodPressureDiastolic","type":"uint16"},{"internalType":"uint16","name":"bloodSugar","type":"uint16"},{"internalType":"uint16","name":"heartRate","type":"uint16"}],"name":"addDailyReport","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"string","name":"name","type":"string"},{"internalType":"string","name":"cid","type":"string"},{"internalType":"string","name":"category","type":"string"},{"internalType":"string","name":"description","type":"string"}],"name":"addFile","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"address","name":"doctor","type":"address"}],"name":"adminRegisterDoctor","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"address","name":"patient","type":"address"}],"name":"adminRegisterPatient","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"anonymous":false,"inputs":[{"indexed":false,"internalType":"address","name":"patient","type":"address"},{"indexed":false,"internalType":"uint256","name":"timestamp","type":"uint256"}],"name":"DailyReportAdded","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":false,"internalType":"address","name":"doctor","type":"address"}],"name":"DoctorRegistered","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":false,"internalType":"address","name":"patient","type":"address"},{"indexed":false,"internalType":"string","name":"cid","type":"string"}],"name":"FileAdded","type":"event"},
  {"inputs":[{"internalType":"address","name":"doctorAddress","type":"address"}],"name":"grantAccess","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"anonymous":false,"inputs":[{"indexed":false,"internalType":"address","name":"patient","type":"address"}],"name":"PatientRegistered","type":"event"},
  {"inputs":[],"name":"registerDoctor","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"registerPatient","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"address","name":"doctorAddress","type":"address"}],"name":"revokeAccess","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"admin","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"","type":"address"}],"name":"doctors","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"patientAddress","type":"address"}],"name":"getDailyReports","outputs":[{"components":[{"internalType":"uint256","name":"timestamp","type":"uint256"},{"internalType":"uint16","name":"bloodPressureSystolic","type":"uint16"},{"internalType":"uint16","name":"bloodPressureDiastolic","type":"uint16"},{"internalType":"uint16","name":"bloodSugar","type":"uint16"},{"internalType":"uint16","name":"heartRate","type":"uint16"}],"internalType":"struct HealthRecord.DailyReport[]","name":"","type":"tuple[]"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"patientAddress","type":"address"},{"internalType":"address","name":"doctorAddress","type":"address"}],"name":"getDoctorAccess","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"doctorAddress","type":"address"}],"name":"getDoctorPatients","outputs":[{"internalType":"address[]","name":"","type":"address[]"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"patientAddress","type":"address"}],"name":"getFiles","outputs":[{"components":[{"internalType":"string","name":"name","type":"string"},{"internalType":"string","name":"cid","type":"string"},{"internalType":"string","name":"category","type":"string"},{"internalType":"uint256","name":"timestamp","type":"uint256"},{"internalType":"string","name":"description","type":"string"}],"internalType":"struct HealthRecord.File[]","name":"","type":"tuple[]"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"patientAddress","type":"address"}],"name":"getPatientDoctors","outputs":[{"internalType":"address[]","name":"","type":"address[]"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"addr","type":"address"}],"name":"isDoctor","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"addr","type":"address"}],"name":"isPatient","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"","type":"address"}],"name":"patients","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"}
]`
